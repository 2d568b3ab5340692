package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

const versionColumns = `
	id, form_template_id, version, schema, is_published, published_at,
	published_by, change_log, created_at`

type formVersionRepository struct {
	ext sqlx.ExtContext
}

func (r *formVersionRepository) Create(ctx context.Context, v *schema.Version) error {
	query := `
		INSERT INTO form_versions (` + versionColumns + `)
		VALUES (
			:id, :form_template_id, :version, :schema, :is_published, :published_at,
			:published_by, :change_log, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, v); err != nil {
		return fmt.Errorf("failed to create form version: %w", err)
	}
	return nil
}

func (r *formVersionRepository) Latest(ctx context.Context, templateID uuid.UUID) (*schema.Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM form_versions
		WHERE form_template_id = $1
		ORDER BY version DESC, created_at DESC
		LIMIT 1`
	var v schema.Version
	if err := sqlx.GetContext(ctx, r.ext, &v, query, templateID); err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (r *formVersionRepository) List(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM form_versions
		WHERE form_template_id = $1
		ORDER BY version DESC, created_at DESC`
	versions := []schema.Version{}
	if err := sqlx.SelectContext(ctx, r.ext, &versions, query, templateID); err != nil {
		return nil, fmt.Errorf("failed to list form versions: %w", err)
	}
	return versions, nil
}

func (r *formVersionRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time, by *string) error {
	query := `
		UPDATE form_versions
		SET is_published = TRUE, published_at = $1, published_by = $2
		WHERE id = $3 AND published_at IS NULL`
	return expectOne(r.ext.ExecContext(ctx, query, at, by, id))
}
