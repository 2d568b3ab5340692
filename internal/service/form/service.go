package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-forms/internal/model"
	"github.com/jwalitptl/clinic-forms/internal/repository"
	apperrors "github.com/jwalitptl/clinic-forms/pkg/errors"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
	"github.com/jwalitptl/clinic-forms/pkg/forms/signature"
	"github.com/jwalitptl/clinic-forms/pkg/logger"
	"github.com/jwalitptl/clinic-forms/pkg/metrics"
)

// CopySuffix is appended to a duplicated template's name when no new name is given.
const CopySuffix = " (Copy)"

type FormServicer interface {
	ListTemplates(ctx context.Context, clinicID *uuid.UUID) ([]schema.Template, error)
	SaveTemplate(ctx context.Context, req schema.SaveTemplateRequest) (*schema.Template, error)
	Publish(ctx context.Context, id uuid.UUID, publishedBy *string) error
	Unpublish(ctx context.Context, id uuid.UUID) error
	Duplicate(ctx context.Context, id uuid.UUID, newName string) (*schema.Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error
	Export(ctx context.Context, id uuid.UUID) (*schema.Export, string, error)
	ListSubmissions(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error)
	CreateSubmission(ctx context.Context, req schema.CreateSubmissionRequest) (*schema.Submission, error)
	ListVersions(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error)
}

type Config struct {
	CacheTTL        time.Duration
	CleanupInterval time.Duration
}

type Service struct {
	store   repository.Store
	cache   *cache.Cache
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewService(store repository.Store, cfg Config, logger *logger.Logger, m *metrics.Metrics) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &Service{
		store:   store,
		cache:   cache.New(cfg.CacheTTL, cfg.CleanupInterval),
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.New,
	}
}

func cacheKey(clinicID *uuid.UUID) string {
	if clinicID == nil {
		return "templates:all"
	}
	return "templates:" + clinicID.String()
}

func (s *Service) ListTemplates(ctx context.Context, clinicID *uuid.UUID) ([]schema.Template, error) {
	key := cacheKey(clinicID)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.TemplateCacheHits.WithLabelValues("hit").Inc()
		return append([]schema.Template(nil), cached.([]schema.Template)...), nil
	}
	s.metrics.TemplateCacheHits.WithLabelValues("miss").Inc()

	templates, err := s.store.Templates().List(ctx, repository.TemplateFilter{ClinicID: clinicID})
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list_templates", "error").Inc()
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("list_templates", "success").Inc()

	ids := make([]uuid.UUID, len(templates))
	for i, t := range templates {
		ids[i] = t.ID
	}
	subs, err := s.store.Submissions().ListForTemplates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions for read model: %w", err)
	}
	byTemplate := make(map[uuid.UUID][]schema.Submission, len(templates))
	for _, sub := range subs {
		byTemplate[sub.TemplateID] = append(byTemplate[sub.TemplateID], sub)
	}
	for i := range templates {
		applyReadModel(&templates[i], byTemplate[templates[i].ID])
		if templates[i].Tags == nil {
			templates[i].Tags = pq.StringArray{}
		}
	}

	s.cache.SetDefault(key, templates)
	return append([]schema.Template(nil), templates...), nil
}

// SaveTemplate creates a template when req.ID is nil and updates it otherwise.
// A schema change is always recorded as a new version; if the author did not
// raise the version number the stored one is bumped.
func (s *Service) SaveTemplate(ctx context.Context, req schema.SaveTemplateRequest) (*schema.Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("template name is required")
	}
	if req.ClinicID == uuid.Nil {
		return nil, invalid("clinic_id is required")
	}
	fields, err := normalizeFields(req.Fields)
	if err != nil {
		return nil, err
	}
	tags := normalizeTags(req.Tags)
	now := s.now()

	if req.ID == nil {
		t := &schema.Template{
			ID:          s.newID(),
			ClinicID:    req.ClinicID,
			Name:        name,
			Description: req.Description,
			Version:     max(req.Version, 1),
			Fields:      fields,
			Category:    strings.TrimSpace(req.Category),
			Tags:        tags,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.mutate(ctx, "create", func(tx repository.Store) error {
			if err := tx.Templates().Create(ctx, t); err != nil {
				return err
			}
			if err := s.snapshot(ctx, tx, t, req.ChangeLog); err != nil {
				return err
			}
			return s.emit(ctx, tx, model.EventTemplateCreated, t.ID, templateEvent(t, now))
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("form template created", "template_id", t.ID.String(), "clinic_id", t.ClinicID.String())
		return t, nil
	}

	var saved *schema.Template
	err = s.mutate(ctx, "update", func(tx repository.Store) error {
		existing, err := s.getTemplate(ctx, tx, *req.ID)
		if err != nil {
			return err
		}

		changed := !sameFields(existing.Fields, fields)
		version := req.Version
		switch {
		case changed && version <= existing.Version:
			version = existing.Version + 1
		case version < existing.Version:
			version = existing.Version
		}

		t := *existing
		t.Name = name
		t.Description = req.Description
		t.Version = version
		t.Fields = fields
		t.Category = strings.TrimSpace(req.Category)
		t.Tags = tags
		t.UpdatedAt = now
		if err := tx.Templates().Update(ctx, &t); err != nil {
			return err
		}
		if version != existing.Version {
			if err := s.snapshot(ctx, tx, &t, req.ChangeLog); err != nil {
				return err
			}
		}
		saved = &t
		return s.emit(ctx, tx, model.EventTemplateUpdated, t.ID, templateEvent(&t, now))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("form template updated", "template_id", saved.ID.String(), "version", saved.Version)
	return saved, nil
}

// Publish marks the template published and stamps its newest version the
// first time that version is published.
func (s *Service) Publish(ctx context.Context, id uuid.UUID, publishedBy *string) error {
	return s.mutate(ctx, "publish", func(tx repository.Store) error {
		t, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Templates().SetPublished(ctx, id, true, now); err != nil {
			return notFoundOr(err)
		}
		latest, err := tx.Versions().Latest(ctx, id)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case latest.PublishedAt == nil:
			if err := tx.Versions().MarkPublished(ctx, latest.ID, now, publishedBy); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		t.IsPublished = true
		evt := templateEvent(t, now)
		evt.PublishedBy = publishedBy
		return s.emit(ctx, tx, model.EventTemplatePublished, id, evt)
	})
}

func (s *Service) Unpublish(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "unpublish", func(tx repository.Store) error {
		t, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Templates().SetPublished(ctx, id, false, now); err != nil {
			return notFoundOr(err)
		}
		t.IsPublished = false
		return s.emit(ctx, tx, model.EventTemplateUnpublished, id, templateEvent(t, now))
	})
}

// Duplicate copies a template into a new draft at version 1.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID, newName string) (*schema.Template, error) {
	var dup *schema.Template
	err := s.mutate(ctx, "duplicate", func(tx repository.Store) error {
		src, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(newName)
		if name == "" {
			name = src.Name + CopySuffix
		}
		now := s.now()
		dup = &schema.Template{
			ID:          s.newID(),
			ClinicID:    src.ClinicID,
			Name:        name,
			Description: src.Description,
			Version:     1,
			Fields:      src.Fields.Clone(),
			Category:    src.Category,
			Tags:        append(pq.StringArray{}, src.Tags...),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Templates().Create(ctx, dup); err != nil {
			return err
		}
		if err := s.snapshot(ctx, tx, dup, "Duplicated from "+src.Name); err != nil {
			return err
		}
		evt := templateEvent(dup, now)
		evt.SourceID = &src.ID
		return s.emit(ctx, tx, model.EventTemplateDuplicated, dup.ID, evt)
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// Delete soft deletes the template. Its versions and submissions are kept.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "delete", func(tx repository.Store) error {
		t, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Templates().SoftDelete(ctx, id, now); err != nil {
			return notFoundOr(err)
		}
		return s.emit(ctx, tx, model.EventTemplateDeleted, id, templateEvent(t, now))
	})
}

func (s *Service) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	return s.mutate(ctx, "favorite", func(tx repository.Store) error {
		t, err := s.getTemplate(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.Templates().SetFavorite(ctx, id, favorite, now); err != nil {
			return notFoundOr(err)
		}
		evt := templateEvent(t, now)
		evt.IsFavorite = &favorite
		return s.emit(ctx, tx, model.EventTemplateFavorited, id, evt)
	})
}

// Export returns the canonical serialized template and a download filename.
func (s *Service) Export(ctx context.Context, id uuid.UUID) (*schema.Export, string, error) {
	t, err := s.getTemplate(ctx, s.store, id)
	if err != nil {
		return nil, "", err
	}
	tags := []string(t.Tags)
	if tags == nil {
		tags = []string{}
	}
	exp := &schema.Export{
		Format:      schema.ExportFormat,
		ID:          t.ID.String(),
		Name:        t.Name,
		Description: t.Description,
		Version:     t.Version,
		Category:    t.Category,
		Tags:        tags,
		Fields:      t.Fields,
	}
	return exp, ExportFilename(t), nil
}

// ExportFilename derives "<slug>-v<version>.json" from the template name.
func ExportFilename(t *schema.Template) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(t.Name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "form"
	}
	return fmt.Sprintf("%s-v%d.json", slug, t.Version)
}

func (s *Service) ListSubmissions(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error) {
	subs, err := s.store.Submissions().List(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// CreateSubmission stores one response. The template must exist and a
// signature, when present, must decode as an image.
func (s *Service) CreateSubmission(ctx context.Context, req schema.CreateSubmissionRequest) (*schema.Submission, error) {
	sig := req.SignatureDataURL
	if sig != nil && *sig == "" {
		sig = nil
	}
	if sig != nil {
		if _, err := signature.DecodeDataURL(*sig); err != nil {
			msg := "signature_data_url is not a valid image"
			if errors.Is(err, signature.ErrImageTooLarge) {
				msg = fmt.Sprintf("signature_data_url image exceeds %dx%d", signature.MaxWidth, signature.MaxHeight)
			}
			return nil, apperrors.BadRequest(msg, fmt.Errorf("%w: %w", ErrInvalidSignature, err))
		}
	}

	data := req.Data
	if data == nil {
		data = schema.Answers{}
	}
	now := s.now()
	sub := &schema.Submission{
		ID:               s.newID(),
		TemplateID:       req.TemplateID,
		ClientID:         req.ClientID,
		SubmittedBy:      req.SubmittedBy,
		Data:             data,
		SignatureDataURL: sig,
		StartedAt:        req.StartedAt,
		CreatedAt:        now,
	}

	err := s.mutate(ctx, "submit", func(tx repository.Store) error {
		if _, err := s.getTemplate(ctx, tx, req.TemplateID); err != nil {
			return err
		}
		if err := tx.Submissions().Create(ctx, sub); err != nil {
			return err
		}
		return s.emit(ctx, tx, model.EventSubmissionCreated, sub.ID, model.SubmissionEvent{
			SubmissionID: sub.ID,
			TemplateID:   sub.TemplateID,
			ClientID:     sub.ClientID,
			Signed:       sig != nil,
			At:           now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SubmissionsCreated.Inc()
	s.logger.Info("form submission stored", "submission_id", sub.ID.String(), "template_id", sub.TemplateID.String())
	return sub, nil
}

func (s *Service) ListVersions(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error) {
	versions, err := s.store.Versions().List(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// mutate runs fn in a transaction, records the outcome and drops cached lists.
func (s *Service) mutate(ctx context.Context, op string, fn func(repository.Store) error) error {
	err := s.store.WithTx(ctx, fn)
	if err != nil {
		s.metrics.TemplateOperations.WithLabelValues(op, "error").Inc()
		if _, ok := apperrors.From(err); !ok {
			s.logger.Error(err, "form operation failed", "operation", op)
		}
		return err
	}
	s.metrics.TemplateOperations.WithLabelValues(op, "success").Inc()
	s.cache.Flush()
	return nil
}

func (s *Service) getTemplate(ctx context.Context, store repository.Store, id uuid.UUID) (*schema.Template, error) {
	t, err := store.Templates().Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return t, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("form template", ErrTemplateNotFound)
	}
	return err
}

func (s *Service) snapshot(ctx context.Context, tx repository.Store, t *schema.Template, changeLog string) error {
	return tx.Versions().Create(ctx, &schema.Version{
		ID:             s.newID(),
		FormTemplateID: t.ID,
		Version:        t.Version,
		Schema:         t.Fields.Clone(),
		ChangeLog:      strings.TrimSpace(changeLog),
		CreatedAt:      t.UpdatedAt,
	})
}

func (s *Service) emit(ctx context.Context, tx repository.Store, eventType string, aggregateID uuid.UUID, payload interface{}) error {
	evt, err := model.NewOutboxEvent(eventType, aggregateID, payload)
	if err != nil {
		return err
	}
	return tx.Outbox().Create(ctx, evt)
}

func templateEvent(t *schema.Template, at time.Time) model.TemplateEvent {
	return model.TemplateEvent{
		TemplateID:  t.ID,
		ClinicID:    t.ClinicID,
		Name:        t.Name,
		Version:     t.Version,
		IsPublished: t.IsPublished,
		At:          at,
	}
}

func normalizeTags(tags []string) pq.StringArray {
	out := pq.StringArray{}
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// sameFields compares two field lists by their JSON form so that nil and
// empty option lists compare equal.
func sameFields(a, b schema.Fields) bool {
	var ja, jb any
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	if json.Unmarshal(ra, &ja) != nil || json.Unmarshal(rb, &jb) != nil {
		return false
	}
	return reflect.DeepEqual(normalizeJSON(ja), normalizeJSON(jb))
}

func normalizeJSON(v any) any {
	switch x := v.(type) {
	case []any:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]any:
		if opts, ok := x["options"]; ok && opts == nil {
			x["options"] = []any{}
		}
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	default:
		return v
	}
}
