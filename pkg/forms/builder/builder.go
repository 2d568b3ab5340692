// Package builder edits a template's field list locally and persists it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

var (
	ErrSaveInFlight = errors.New("builder: save already in progress")
	ErrClosed       = errors.New("builder: closed")
)

const MessageSaved = "Template saved successfully"

// Saver persists a template. *formclient.Client satisfies it.
type Saver interface {
	SaveTemplate(ctx context.Context, req schema.SaveTemplateRequest) (*schema.Template, error)
}

// FieldPatch carries a partial field update; nil members are left untouched.
type FieldPatch struct {
	Label     *string
	Type      *schema.FieldType
	Required  *bool
	Options   []schema.Option
	Condition *schema.Condition
	// ClearCondition removes the field's condition.
	ClearCondition bool
}

type Status struct {
	Saving  bool
	Message string
	Error   bool
}

type Builder struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	saver  Saver
	newID  func() string

	id          *uuid.UUID
	clinicID    uuid.UUID
	name        string
	description string
	version     int
	fields      schema.Fields
	category    string
	tags        []string
	changeLog   string

	saving bool
	status Status
	closed bool
}

// New starts an empty template for clinicID.
func New(ctx context.Context, saver Saver, clinicID uuid.UUID) *Builder {
	ctx, cancel := context.WithCancel(ctx)
	return &Builder{
		ctx:      ctx,
		cancel:   cancel,
		saver:    saver,
		newID:    func() string { return uuid.NewString() },
		clinicID: clinicID,
		version:  1,
		fields:   schema.Fields{},
	}
}

// Load replaces the local state with an existing template.
func (b *Builder) Load(t schema.Template) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := t.ID
	b.id = &id
	b.clinicID = t.ClinicID
	b.name = t.Name
	b.description = t.Description
	b.version = t.Version
	b.fields = t.Fields.Clone()
	if b.fields == nil {
		b.fields = schema.Fields{}
	}
	b.category = t.Category
	b.tags = append([]string(nil), t.Tags...)
	b.changeLog = ""
	b.status = Status{}
}

// Import starts a new draft from an exported template. The exported id and
// version are not reused.
func (b *Builder) Import(e schema.Export) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = nil
	b.name = e.Name
	b.description = e.Description
	b.version = 1
	b.fields = e.Fields.Clone()
	if b.fields == nil {
		b.fields = schema.Fields{}
	}
	b.category = e.Category
	b.tags = append([]string(nil), e.Tags...)
	b.changeLog = fmt.Sprintf("Imported from %s v%d", e.Name, e.Version)
	b.status = Status{}
}

// AddField appends a field of type t and returns its id.
func (b *Builder) AddField(t schema.FieldType) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := schema.Field{
		ID:    b.newID(),
		Type:  t,
		Label: defaultLabel(t),
	}
	if t.HasOptions() {
		f.Options = b.defaultOptions()
	}
	b.fields = append(b.fields, f)
	return f.ID
}

// UpdateField merges patch into the field with the given id. Other fields
// and the field order are left as they are. Unknown ids are ignored.
func (b *Builder) UpdateField(id string, patch FieldPatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(id)
	if i < 0 {
		return
	}

	f := b.fields[i].Clone()
	if patch.Label != nil {
		f.Label = *patch.Label
	}
	if patch.Required != nil {
		f.Required = *patch.Required
	}
	if patch.Type != nil && *patch.Type != f.Type {
		f.Type = *patch.Type
		switch {
		case !f.Type.HasOptions():
			f.Options = nil
		case len(f.Options) == 0:
			f.Options = b.defaultOptions()
		}
	}
	if patch.Options != nil && f.Type.HasOptions() {
		f.Options = append([]schema.Option{}, patch.Options...)
	}
	if patch.ClearCondition {
		f.Condition = nil
	} else if patch.Condition != nil {
		c := *patch.Condition
		f.Condition = &c
	}
	b.fields[i] = f
}

// RemoveField deletes a field. Conditions on other fields that point at it
// are left dangling; the evaluator tolerates that and the server prunes them.
func (b *Builder) RemoveField(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(id)
	if i < 0 {
		return
	}
	b.fields = append(b.fields[:i:i], b.fields[i+1:]...)
}

// MoveField shifts a field by delta positions, clamped to the list bounds.
func (b *Builder) MoveField(id string, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(id)
	if i < 0 || delta == 0 {
		return
	}
	j := i + delta
	if j < 0 {
		j = 0
	}
	if j >= len(b.fields) {
		j = len(b.fields) - 1
	}
	f := b.fields[i]
	if j > i {
		copy(b.fields[i:j], b.fields[i+1:j+1])
	} else {
		copy(b.fields[j+1:i+1], b.fields[j:i])
	}
	b.fields[j] = f
}

// AddOption appends a placeholder option to a select or radio field.
func (b *Builder) AddOption(fieldID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(fieldID)
	if i < 0 || !b.fields[i].Type.HasOptions() {
		return
	}
	f := b.fields[i].Clone()
	f.Options = append(f.Options, schema.Option{
		Value: b.newID(),
		Label: fmt.Sprintf("Option %d", len(f.Options)+1),
	})
	b.fields[i] = f
}

// UpdateOptionLabel edits the label of the option at index.
func (b *Builder) UpdateOptionLabel(fieldID string, index int, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(fieldID)
	if i < 0 || index < 0 || index >= len(b.fields[i].Options) {
		return
	}
	f := b.fields[i].Clone()
	f.Options[index].Label = label
	b.fields[i] = f
}

// RemoveOption deletes the option at index. Removing the last option leaves
// an empty list.
func (b *Builder) RemoveOption(fieldID string, index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.fields.Index(fieldID)
	if i < 0 || index < 0 || index >= len(b.fields[i].Options) {
		return
	}
	f := b.fields[i].Clone()
	f.Options = append(f.Options[:index:index], f.Options[index+1:]...)
	b.fields[i] = f
}

func (b *Builder) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

func (b *Builder) SetDescription(description string) {
	b.mu.Lock()
	b.description = description
	b.mu.Unlock()
}

func (b *Builder) SetVersion(version int) {
	b.mu.Lock()
	b.version = version
	b.mu.Unlock()
}

func (b *Builder) SetCategory(category string) {
	b.mu.Lock()
	b.category = category
	b.mu.Unlock()
}

func (b *Builder) SetTags(tags []string) {
	b.mu.Lock()
	b.tags = append([]string(nil), tags...)
	b.mu.Unlock()
}

func (b *Builder) SetChangeLog(changeLog string) {
	b.mu.Lock()
	b.changeLog = changeLog
	b.mu.Unlock()
}

// ID returns the persisted template id, or nil before the first save.
func (b *Builder) ID() *uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == nil {
		return nil
	}
	id := *b.id
	return &id
}

func (b *Builder) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

func (b *Builder) Description() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.description
}

func (b *Builder) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Fields returns a copy of the field list.
func (b *Builder) Fields() schema.Fields {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fields.Clone()
}

func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	s.Saving = b.saving
	return s
}

func (b *Builder) Saving() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saving
}

// Save persists the template in one request. Local edits survive a failed
// save. On success the builder adopts the stored id, version and fields.
func (b *Builder) Save(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.saving {
		b.mu.Unlock()
		return ErrSaveInFlight
	}
	b.saving = true
	b.status = Status{}
	req := schema.SaveTemplateRequest{
		ID:          b.id,
		ClinicID:    b.clinicID,
		Name:        strings.TrimSpace(b.name),
		Description: b.description,
		Version:     b.version,
		Fields:      b.fields.Clone(),
		Category:    b.category,
		Tags:        append([]string(nil), b.tags...),
		ChangeLog:   b.changeLog,
	}
	b.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	saved, err := b.saver.SaveTemplate(callCtx, req)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.saving = false
	if b.closed {
		return ErrClosed
	}
	if err != nil {
		b.status = Status{Message: err.Error(), Error: true}
		return err
	}

	b.status = Status{Message: MessageSaved}
	if saved != nil {
		id := saved.ID
		b.id = &id
		b.version = saved.Version
		// Edits made while the save was in flight win over the server copy.
		if saved.Fields != nil && reflect.DeepEqual(b.fields, req.Fields) {
			b.fields = saved.Fields.Clone()
		}
	}
	b.changeLog = ""
	return nil
}

// Close cancels any in-flight save and ignores its result.
func (b *Builder) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
}

func (b *Builder) defaultOptions() []schema.Option {
	return []schema.Option{
		{Value: b.newID(), Label: "Option 1"},
		{Value: b.newID(), Label: "Option 2"},
	}
}

func defaultLabel(t schema.FieldType) string {
	return fmt.Sprintf("New %s field", t)
}
