package runner

import "github.com/jwalitptl/clinic-forms/pkg/forms/schema"

// InputKind names the affordance used to collect a field's answer.
type InputKind string

const (
	KindText       InputKind = "text"
	KindMultiline  InputKind = "multiline"
	KindNumber     InputKind = "number"
	KindDate       InputKind = "date"
	KindDropdown   InputKind = "dropdown"
	KindCheckbox   InputKind = "checkbox"
	KindRadioGroup InputKind = "radio_group"
	KindSignature  InputKind = "signature"
)

// UnselectedOption heads every dropdown's choices.
var UnselectedOption = schema.Option{Value: "", Label: "Select an option"}

// Input describes one rendered field.
type Input struct {
	Field   schema.Field
	Kind    InputKind
	Value   any
	Choices []schema.Option
	// Marker is "*" for required fields. It is not enforced.
	Marker string
	// Bound is set on the signature field that owns the runner's pad.
	Bound bool
}

func kindOf(t schema.FieldType) InputKind {
	switch t {
	case schema.FieldTextarea:
		return KindMultiline
	case schema.FieldNumber:
		return KindNumber
	case schema.FieldDate:
		return KindDate
	case schema.FieldSelect:
		return KindDropdown
	case schema.FieldCheckbox:
		return KindCheckbox
	case schema.FieldRadio:
		return KindRadioGroup
	case schema.FieldSignature:
		return KindSignature
	default:
		return KindText
	}
}
