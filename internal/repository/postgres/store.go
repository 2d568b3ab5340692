package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-forms/internal/repository"
)

// Store hands out repositories bound either to the pool or to one
// transaction.
type Store struct {
	BaseRepository
	ext sqlx.ExtContext
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{BaseRepository: NewBaseRepository(db), ext: db}
}

func (s *Store) Templates() repository.FormTemplateRepository {
	return &formTemplateRepository{ext: s.ext}
}

func (s *Store) Versions() repository.FormVersionRepository {
	return &formVersionRepository{ext: s.ext}
}

func (s *Store) Submissions() repository.FormSubmissionRepository {
	return &formSubmissionRepository{ext: s.ext}
}

func (s *Store) Outbox() repository.OutboxRepository {
	return &outboxRepository{BaseRepository: s.BaseRepository, ext: s.ext}
}

// WithTx runs fn with repositories sharing one transaction. Inside an
// existing transaction fn joins it.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(s)
	}
	return s.BaseRepository.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&Store{BaseRepository: s.BaseRepository, ext: tx})
	})
}
