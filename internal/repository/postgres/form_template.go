package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-forms/internal/repository"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

const templateColumns = `
	id, clinic_id, name, description, version, fields, is_published,
	is_favorite, category, tags, created_at, updated_at`

type formTemplateRepository struct {
	ext sqlx.ExtContext
}

func (r *formTemplateRepository) Create(ctx context.Context, t *schema.Template) error {
	query := `
		INSERT INTO form_templates (` + templateColumns + `)
		VALUES (
			:id, :clinic_id, :name, :description, :version, :fields, :is_published,
			:is_favorite, :category, :tags, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, t); err != nil {
		return fmt.Errorf("failed to create form template: %w", err)
	}
	return nil
}

func (r *formTemplateRepository) Update(ctx context.Context, t *schema.Template) error {
	query := `
		UPDATE form_templates
		SET name = :name,
			description = :description,
			version = :version,
			fields = :fields,
			category = :category,
			tags = :tags,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`
	err := expectOne(sqlx.NamedExecContext(ctx, r.ext, query, t))
	if err != nil {
		return fmt.Errorf("failed to update form template %s: %w", t.ID, err)
	}
	return nil
}

func (r *formTemplateRepository) Get(ctx context.Context, id uuid.UUID) (*schema.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE id = $1 AND deleted_at IS NULL`
	var t schema.Template
	if err := sqlx.GetContext(ctx, r.ext, &t, query, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *formTemplateRepository) List(ctx context.Context, filter repository.TemplateFilter) ([]schema.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE deleted_at IS NULL`
	var args []interface{}
	if filter.ClinicID != nil {
		query += ` AND clinic_id = $1`
		args = append(args, *filter.ClinicID)
	}
	query += ` ORDER BY updated_at DESC, name ASC`

	templates := []schema.Template{}
	if err := sqlx.SelectContext(ctx, r.ext, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list form templates: %w", err)
	}
	return templates, nil
}

func (r *formTemplateRepository) SetPublished(ctx context.Context, id uuid.UUID, published bool, at time.Time) error {
	query := `UPDATE form_templates SET is_published = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	return expectOne(r.ext.ExecContext(ctx, query, published, at, id))
}

func (r *formTemplateRepository) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool, at time.Time) error {
	query := `UPDATE form_templates SET is_favorite = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	return expectOne(r.ext.ExecContext(ctx, query, favorite, at, id))
}

func (r *formTemplateRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE form_templates SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`
	return expectOne(r.ext.ExecContext(ctx, query, at, id))
}
