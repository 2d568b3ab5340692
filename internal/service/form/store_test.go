package form

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/internal/model"
	"github.com/jwalitptl/clinic-forms/internal/repository"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

// memState is an in-memory database. memStore.WithTx works on a copy and
// swaps it in on success, so failed operations leave no trace.
type memState struct {
	templates   map[uuid.UUID]schema.Template
	deleted     map[uuid.UUID]bool
	versions    []schema.Version
	submissions []schema.Submission
	outbox      []*model.OutboxEvent
}

func (s *memState) clone() *memState {
	out := &memState{
		templates:   make(map[uuid.UUID]schema.Template, len(s.templates)),
		deleted:     make(map[uuid.UUID]bool, len(s.deleted)),
		versions:    append([]schema.Version(nil), s.versions...),
		submissions: append([]schema.Submission(nil), s.submissions...),
		outbox:      append([]*model.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.templates {
		out.templates[k] = v
	}
	for k, v := range s.deleted {
		out.deleted[k] = v
	}
	return out
}

type memStore struct {
	state   *memState
	failOn  string
	listErr error
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		templates: map[uuid.UUID]schema.Template{},
		deleted:   map[uuid.UUID]bool{},
	}}
}

var errInjected = errors.New("injected failure")

func (m *memStore) Templates() repository.FormTemplateRepository { return memTemplates{m} }
func (m *memStore) Versions() repository.FormVersionRepository { return memVersions{m} }
func (m *memStore) Submissions() repository.FormSubmissionRepository { return memSubmissions{m} }
func (m *memStore) Outbox() repository.OutboxRepository { return memOutbox{m} }

func (m *memStore) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	tx := &memStore{state: m.state.clone(), failOn: m.failOn}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) fail(op string) error {
	if m.failOn == op {
		return errInjected
	}
	return nil
}

type memTemplates struct{ m *memStore }

func (r memTemplates) Create(ctx context.Context, t *schema.Template) error {
	if err := r.m.fail("template.create"); err != nil {
		return err
	}
	r.m.state.templates[t.ID] = *t
	return nil
}

func (r memTemplates) Update(ctx context.Context, t *schema.Template) error {
	if err := r.m.fail("template.update"); err != nil {
		return err
	}
	if _, ok := r.m.state.templates[t.ID]; !ok || r.m.state.deleted[t.ID] {
		return repository.ErrNotFound
	}
	r.m.state.templates[t.ID] = *t
	return nil
}

func (r memTemplates) Get(ctx context.Context, id uuid.UUID) (*schema.Template, error) {
	t, ok := r.m.state.templates[id]
	if !ok || r.m.state.deleted[id] {
		return nil, repository.ErrNotFound
	}
	t.Fields = t.Fields.Clone()
	return &t, nil
}

func (r memTemplates) List(ctx context.Context, filter repository.TemplateFilter) ([]schema.Template, error) {
	if r.m.listErr != nil {
		return nil, r.m.listErr
	}
	out := []schema.Template{}
	for id, t := range r.m.state.templates {
		if r.m.state.deleted[id] {
			continue
		}
		if filter.ClinicID != nil && t.ClinicID != *filter.ClinicID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memTemplates) patch(id uuid.UUID, fn func(*schema.Template)) error {
	t, ok := r.m.state.templates[id]
	if !ok || r.m.state.deleted[id] {
		return repository.ErrNotFound
	}
	fn(&t)
	r.m.state.templates[id] = t
	return nil
}

func (r memTemplates) SetPublished(ctx context.Context, id uuid.UUID, published bool, at time.Time) error {
	if err := r.m.fail("template.publish"); err != nil {
		return err
	}
	return r.patch(id, func(t *schema.Template) { t.IsPublished = published; t.UpdatedAt = at })
}

func (r memTemplates) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool, at time.Time) error {
	return r.patch(id, func(t *schema.Template) { t.IsFavorite = favorite; t.UpdatedAt = at })
}

func (r memTemplates) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, ok := r.m.state.templates[id]; !ok || r.m.state.deleted[id] {
		return repository.ErrNotFound
	}
	r.m.state.deleted[id] = true
	return nil
}

type memVersions struct{ m *memStore }

func (r memVersions) Create(ctx context.Context, v *schema.Version) error {
	r.m.state.versions = append(r.m.state.versions, *v)
	return nil
}

func (r memVersions) Latest(ctx context.Context, templateID uuid.UUID) (*schema.Version, error) {
	versions, _ := r.List(ctx, templateID)
	if len(versions) == 0 {
		return nil, repository.ErrNotFound
	}
	return &versions[0], nil
}

func (r memVersions) List(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error) {
	out := []schema.Version{}
	for _, v := range r.m.state.versions {
		if v.FormTemplateID == templateID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r memVersions) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time, by *string) error {
	for i := range r.m.state.versions {
		v := &r.m.state.versions[i]
		if v.ID == id && v.PublishedAt == nil {
			v.IsPublished = true
			v.PublishedAt = &at
			v.PublishedBy = by
			return nil
		}
	}
	return repository.ErrNotFound
}

type memSubmissions struct{ m *memStore }

func (r memSubmissions) Create(ctx context.Context, s *schema.Submission) error {
	if err := r.m.fail("submission.create"); err != nil {
		return err
	}
	r.m.state.submissions = append(r.m.state.submissions, *s)
	return nil
}

func (r memSubmissions) List(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error) {
	out := []schema.Submission{}
	for i := len(r.m.state.submissions) - 1; i >= 0; i-- {
		if s := r.m.state.submissions[i]; s.TemplateID == templateID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r memSubmissions) ListForTemplates(ctx context.Context, ids []uuid.UUID) ([]schema.Submission, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []schema.Submission{}
	for _, s := range r.m.state.submissions {
		if want[s.TemplateID] {
			out = append(out, s)
		}
	}
	return out, nil
}

type memOutbox struct{ m *memStore }

func (r memOutbox) Create(ctx context.Context, event *model.OutboxEvent) error {
	if err := r.m.fail("outbox.create"); err != nil {
		return err
	}
	event.ID = uuid.New()
	r.m.state.outbox = append(r.m.state.outbox, event)
	return nil
}

func (r memOutbox) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (r memOutbox) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, msg *string, retryAt *time.Time) error {
	return nil
}

func (r memOutbox) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) eventTypes() []string {
	out := make([]string, len(m.state.outbox))
	for i, e := range m.state.outbox {
		out[i] = e.EventType
	}
	return out
}
