// Package runner fills in a form template and submits the answers once.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
	"github.com/jwalitptl/clinic-forms/pkg/forms/signature"
	"github.com/jwalitptl/clinic-forms/pkg/forms/visibility"
)

var (
	ErrSubmitInFlight = errors.New("runner: submission already in progress")
	ErrClosed         = errors.New("runner: closed")
)

const (
	MessageSubmitted = "Form submitted successfully"
	RequiredMarker   = "*"
)

// Submitter persists a completed response. *formclient.Client satisfies it.
type Submitter interface {
	CreateSubmission(ctx context.Context, req schema.CreateSubmissionRequest) (*schema.Submission, error)
}

type Options struct {
	ClientID *uuid.UUID
	// Kiosk only changes presentation.
	Kiosk        bool
	DisplayWidth float64
	Now          func() time.Time
}

// Status is the inline text shown next to the submit control.
type Status struct {
	Submitting bool
	Message    string
	Error      bool
}

type Runner struct {
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	submitter Submitter
	template  schema.Template
	opts      Options

	answers    schema.Answers
	signature  *string
	pad        *signature.Pad
	startedAt  *time.Time
	submitting bool
	status     Status
	closed     bool
}

// New creates a runner whose lifetime is bound to ctx. Cancelling ctx or
// calling Close aborts any in-flight submission.
func New(ctx context.Context, submitter Submitter, template schema.Template, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		ctx:       ctx,
		cancel:    cancel,
		submitter: submitter,
		template:  template,
		opts:      opts,
		answers:   schema.Answers{},
	}
	r.pad = signature.NewPad(signature.Options{
		DisplayWidth: opts.DisplayWidth,
		OnChange:     r.padChanged,
	})
	return r
}

func (r *Runner) Template() schema.Template {
	return r.template
}

func (r *Runner) Kiosk() bool {
	return r.opts.Kiosk
}

// Pad returns the capture surface bound to the template's signature field.
func (r *Runner) Pad() *signature.Pad {
	return r.pad
}

// SetAnswer records the value for one field. Answers of fields that become
// hidden are kept.
func (r *Runner) SetAnswer(fieldID string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.touch()
	r.answers[fieldID] = value
}

func (r *Runner) Answers() schema.Answers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answers.Clone()
}

func (r *Runner) Signature() *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyString(r.signature)
}

// SetSignature replaces the captured signature and redisplays it on the pad.
func (r *Runner) SetSignature(dataURL *string) error {
	if err := r.pad.SetValue(dataURL); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.signature = copyString(dataURL)
	if dataURL != nil {
		r.touch()
	}
	return nil
}

func (r *Runner) padChanged(dataURL *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.signature = copyString(dataURL)
	if dataURL != nil {
		r.touch()
	}
}

// touch stamps the time of the first edit. Caller holds mu.
func (r *Runner) touch() {
	if r.startedAt == nil {
		now := r.opts.Now().UTC()
		r.startedAt = &now
	}
}

func (r *Runner) Submitting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitting
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.Submitting = r.submitting
	return s
}

// Submit sends the current answers in a single request. A second call while
// one is outstanding returns ErrSubmitInFlight without touching the network.
// On success the answers and signature are cleared; on failure they are kept.
func (r *Runner) Submit(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.submitting {
		r.mu.Unlock()
		return ErrSubmitInFlight
	}
	r.submitting = true
	r.status = Status{}
	req := schema.CreateSubmissionRequest{
		TemplateID:       r.template.ID,
		ClientID:         r.opts.ClientID,
		SubmittedBy:      nil,
		Data:             r.answers.Clone(),
		SignatureDataURL: copyString(r.signature),
		StartedAt:        r.startedAt,
	}
	r.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	_, err := r.submitter.CreateSubmission(callCtx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitting = false
	if r.closed {
		return ErrClosed
	}
	if err != nil {
		r.status = Status{Message: err.Error(), Error: true}
		return err
	}

	r.status = Status{Message: MessageSubmitted}
	r.answers = schema.Answers{}
	r.signature = nil
	r.startedAt = nil
	_ = r.pad.SetValue(nil)
	return nil
}

// Close detaches the runner. Late results from an in-flight submission are
// discarded.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
}

// Inputs returns the visible fields, in template order, as input descriptors.
func (r *Runner) Inputs() []Input {
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := visibility.VisibleFields(r.template.Fields, r.answers)
	sigField, hasSig := r.template.SignatureField()

	inputs := make([]Input, 0, len(visible))
	for _, f := range visible {
		in := Input{Field: f, Kind: kindOf(f.Type)}
		if f.Required {
			in.Marker = RequiredMarker
		}

		v, answered := r.answers[f.ID]
		switch f.Type {
		case schema.FieldNumber:
			in.Value = 0.0
		case schema.FieldSelect:
			in.Value = ""
			in.Choices = append([]schema.Option{UnselectedOption}, f.Options...)
		case schema.FieldRadio:
			in.Choices = append([]schema.Option(nil), f.Options...)
		case schema.FieldCheckbox:
			in.Value = false
		case schema.FieldSignature:
			in.Bound = hasSig && sigField.ID == f.ID
		}
		if answered {
			in.Value = v
		}
		if f.Type == schema.FieldSignature {
			if in.Bound {
				in.Value = copyString(r.signature)
			} else {
				in.Value = nil
			}
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
