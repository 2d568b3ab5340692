package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/internal/model"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

// ErrNotFound is returned when a row does not exist or is soft deleted.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// FormTemplateRepository persists templates. Deleted templates are
	// invisible to every method.
	FormTemplateRepository interface {
		Create(ctx context.Context, t *schema.Template) error
		Update(ctx context.Context, t *schema.Template) error
		Get(ctx context.Context, id uuid.UUID) (*schema.Template, error)
		List(ctx context.Context, filter TemplateFilter) ([]schema.Template, error)
		SetPublished(ctx context.Context, id uuid.UUID, published bool, at time.Time) error
		SetFavorite(ctx context.Context, id uuid.UUID, favorite bool, at time.Time) error
		SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	FormVersionRepository interface {
		Create(ctx context.Context, v *schema.Version) error
		Latest(ctx context.Context, templateID uuid.UUID) (*schema.Version, error)
		// List returns versions newest first.
		List(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error)
		MarkPublished(ctx context.Context, id uuid.UUID, at time.Time, by *string) error
	}

	FormSubmissionRepository interface {
		Create(ctx context.Context, s *schema.Submission) error
		// List returns submissions newest first.
		List(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error)
		ListForTemplates(ctx context.Context, templateIDs []uuid.UUID) ([]schema.Submission, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending locks up to limit due events and leases them until
		// now+lease so concurrent workers skip them.
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Store groups the form repositories so a service can run several
	// writes in one transaction.
	Store interface {
		Templates() FormTemplateRepository
		Versions() FormVersionRepository
		Submissions() FormSubmissionRepository
		Outbox() OutboxRepository
		WithTx(ctx context.Context, fn func(Store) error) error
	}
)

type TemplateFilter struct {
	ClinicID *uuid.UUID
}
