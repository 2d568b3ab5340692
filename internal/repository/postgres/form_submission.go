package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

const submissionColumns = `
	id, template_id, client_id, submitted_by, data, signature_data_url,
	started_at, created_at`

type formSubmissionRepository struct {
	ext sqlx.ExtContext
}

func (r *formSubmissionRepository) Create(ctx context.Context, s *schema.Submission) error {
	query := `
		INSERT INTO form_submissions (` + submissionColumns + `)
		VALUES (
			:id, :template_id, :client_id, :submitted_by, :data, :signature_data_url,
			:started_at, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, s); err != nil {
		return fmt.Errorf("failed to create form submission: %w", err)
	}
	return nil
}

func (r *formSubmissionRepository) List(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM form_submissions
		WHERE template_id = $1
		ORDER BY created_at DESC`
	submissions := []schema.Submission{}
	if err := sqlx.SelectContext(ctx, r.ext, &submissions, query, templateID); err != nil {
		return nil, fmt.Errorf("failed to list form submissions: %w", err)
	}
	return submissions, nil
}

func (r *formSubmissionRepository) ListForTemplates(ctx context.Context, templateIDs []uuid.UUID) ([]schema.Submission, error) {
	submissions := []schema.Submission{}
	if len(templateIDs) == 0 {
		return submissions, nil
	}
	ids := make([]string, len(templateIDs))
	for i, id := range templateIDs {
		ids[i] = id.String()
	}
	query := `
		SELECT ` + submissionColumns + `
		FROM form_submissions
		WHERE template_id = ANY($1::uuid[])`
	if err := sqlx.SelectContext(ctx, r.ext, &submissions, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list form submissions: %w", err)
	}
	return submissions, nil
}
