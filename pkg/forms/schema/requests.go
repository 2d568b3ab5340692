package schema

import (
	"time"

	"github.com/google/uuid"
)

// SaveTemplateRequest creates a template when ID is nil and updates it otherwise.
type SaveTemplateRequest struct {
	ID          *uuid.UUID `json:"id,omitempty"`
	ClinicID    uuid.UUID  `json:"clinic_id" binding:"required"`
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	Version     int        `json:"version" binding:"min=0"`
	Fields      Fields     `json:"fields" binding:"dive"`
	Category    string     `json:"category,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	ChangeLog   string     `json:"change_log,omitempty"`
}

type TemplateActionRequest struct {
	TemplateID  uuid.UUID `json:"templateId" binding:"required"`
	PublishedBy *string   `json:"publishedBy,omitempty"`
}

type DuplicateTemplateRequest struct {
	TemplateID uuid.UUID `json:"templateId" binding:"required"`
	NewName    string    `json:"newName"`
}

type FavoriteTemplateRequest struct {
	TemplateID uuid.UUID `json:"templateId" binding:"required"`
	Favorite   bool      `json:"favorite"`
}

type CreateSubmissionRequest struct {
	TemplateID       uuid.UUID  `json:"template_id" binding:"required"`
	ClientID         *uuid.UUID `json:"client_id"`
	SubmittedBy      *uuid.UUID `json:"submitted_by"`
	Data             Answers    `json:"data"`
	SignatureDataURL *string    `json:"signature_data_url"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

type TemplateList struct {
	Templates []Template `json:"templates"`
}

type SubmissionList struct {
	Submissions []Submission `json:"submissions"`
}

type VersionList struct {
	Versions []Version `json:"versions"`
}

// Export is the canonical serialized form of a template.
type Export struct {
	Format      int      `json:"format"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     int      `json:"version"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Fields      Fields   `json:"fields"`
}

// ExportFormat is bumped whenever the Export layout changes.
const ExportFormat = 1
