package model

import (
	"time"

	"github.com/google/uuid"
)

// Form lifecycle event types written to the outbox.
const (
	EventTemplateCreated     = "form.template.created"
	EventTemplateUpdated     = "form.template.updated"
	EventTemplatePublished   = "form.template.published"
	EventTemplateUnpublished = "form.template.unpublished"
	EventTemplateDuplicated  = "form.template.duplicated"
	EventTemplateDeleted     = "form.template.deleted"
	EventTemplateFavorited   = "form.template.favorited"
	EventSubmissionCreated   = "form.submission.created"
)

type TemplateEvent struct {
	TemplateID  uuid.UUID  `json:"template_id"`
	ClinicID    uuid.UUID  `json:"clinic_id"`
	Name        string     `json:"name"`
	Version     int        `json:"version"`
	IsPublished bool       `json:"is_published"`
	SourceID    *uuid.UUID `json:"source_id,omitempty"`
	PublishedBy *string    `json:"published_by,omitempty"`
	IsFavorite  *bool      `json:"is_favorite,omitempty"`
	At          time.Time  `json:"at"`
}

type SubmissionEvent struct {
	SubmissionID uuid.UUID  `json:"submission_id"`
	TemplateID   uuid.UUID  `json:"template_id"`
	ClientID     *uuid.UUID `json:"client_id,omitempty"`
	Signed       bool       `json:"signed"`
	At           time.Time  `json:"at"`
}
