// Package schema holds the wire types shared by the forms API and its clients.
package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FieldType is the variant tag of a form field
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldTextarea  FieldType = "textarea"
	FieldNumber    FieldType = "number"
	FieldDate      FieldType = "date"
	FieldSelect    FieldType = "select"
	FieldCheckbox  FieldType = "checkbox"
	FieldRadio     FieldType = "radio"
	FieldSignature FieldType = "signature"
)

// FieldTypes lists every supported field type in palette order.
var FieldTypes = []FieldType{
	FieldText, FieldTextarea, FieldNumber, FieldDate,
	FieldSelect, FieldCheckbox, FieldRadio, FieldSignature,
}

func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// HasOptions reports whether fields of this type carry an option list.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldRadio
}

// Operator compares a referenced answer against a condition value
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpIncludes  Operator = "includes"
)

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Condition makes a field's visibility depend on another field's answer.
type Condition struct {
	FieldID  string   `json:"fieldId"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

type Field struct {
	ID        string     `json:"id" binding:"required"`
	Type      FieldType  `json:"type" binding:"required,fieldtype"`
	Label     string     `json:"label"`
	Required  bool       `json:"required"`
	Options   []Option   `json:"options"`
	Condition *Condition `json:"condition,omitempty"`
}

// Clone returns a deep copy of the field.
func (f Field) Clone() Field {
	out := f
	if f.Options != nil {
		out.Options = make([]Option, len(f.Options))
		copy(out.Options, f.Options)
	}
	if f.Condition != nil {
		c := *f.Condition
		out.Condition = &c
	}
	return out
}

// Fields is an ordered field list stored as a JSON column.
type Fields []Field

// Clone returns a deep copy of the list.
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	for i, f := range fs {
		out[i] = f.Clone()
	}
	return out
}

// Index returns the position of the field with the given id, or -1.
func (fs Fields) Index(id string) int {
	for i, f := range fs {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (fs Fields) Value() (driver.Value, error) {
	if fs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(fs)
}

func (fs *Fields) Scan(src any) error {
	return scanJSON(src, fs)
}

// Answers maps a field id to its current answer.
type Answers map[string]any

// Clone returns a shallow copy of the answer map.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

func (a *Answers) Scan(src any) error {
	return scanJSON(src, a)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// Template is a named, versioned ordered sequence of fields.
type Template struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ClinicID    uuid.UUID `json:"clinic_id" db:"clinic_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Version     int       `json:"version" db:"version"`
	Fields      Fields    `json:"fields" db:"fields"`
	IsPublished bool      `json:"is_published" db:"is_published"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	// Read model, owned by the backend.
	SubmissionCount       int            `json:"submissionCount" db:"-"`
	CompletionRate        float64        `json:"completionRate" db:"-"`
	AverageCompletionTime float64        `json:"averageCompletionTime" db:"-"`
	Tags                  pq.StringArray `json:"tags" db:"tags"`
	Category              string         `json:"category" db:"category"`
	IsFavorite            bool           `json:"isFavorite" db:"is_favorite"`
}

// Status returns "published" or "draft".
func (t Template) Status() string {
	if t.IsPublished {
		return StatusPublished
	}
	return StatusDraft
}

const (
	StatusPublished = "published"
	StatusDraft     = "draft"
)

// SignatureField returns the first signature-typed field, if any.
func (t Template) SignatureField() (Field, bool) {
	for _, f := range t.Fields {
		if f.Type == FieldSignature {
			return f, true
		}
	}
	return Field{}, false
}

// Version is an immutable snapshot of a template's schema.
type Version struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	FormTemplateID uuid.UUID  `json:"formTemplateId" db:"form_template_id"`
	Version        int        `json:"version" db:"version"`
	Schema         Fields     `json:"schema" db:"schema"`
	IsPublished    bool       `json:"isPublished" db:"is_published"`
	PublishedAt    *time.Time `json:"publishedAt" db:"published_at"`
	PublishedBy    *string    `json:"publishedBy" db:"published_by"`
	ChangeLog      string     `json:"changeLog" db:"change_log"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// Submission is one completed response to a template.
type Submission struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TemplateID       uuid.UUID  `json:"template_id" db:"template_id"`
	ClientID         *uuid.UUID `json:"client_id" db:"client_id"`
	SubmittedBy      *uuid.UUID `json:"submitted_by" db:"submitted_by"`
	Data             Answers    `json:"data" db:"data"`
	SignatureDataURL *string    `json:"signature_data_url" db:"signature_data_url"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}
