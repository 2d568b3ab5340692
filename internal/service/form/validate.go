package form

import (
	"fmt"
	"strings"

	apperrors "github.com/jwalitptl/clinic-forms/pkg/errors"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

var knownOperators = map[schema.Operator]bool{
	schema.OpEquals:    true,
	schema.OpNotEquals: true,
	schema.OpExists:    true,
	schema.OpNotExists: true,
	schema.OpGt:        true,
	schema.OpLt:        true,
	schema.OpIncludes:  true,
}

func invalid(format string, args ...interface{}) error {
	return apperrors.BadRequest(fmt.Sprintf(format, args...), ErrInvalidTemplate)
}

// normalizeFields validates an authored field list and returns a cleaned
// copy. Conditions that point at a field missing from the list are dropped;
// conditions that point at the field itself or a later one are rejected.
func normalizeFields(fields schema.Fields) (schema.Fields, error) {
	out := make(schema.Fields, 0, len(fields))
	seen := make(map[string]int, len(fields))
	signatures := 0

	for i, f := range fields {
		f = f.Clone()
		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" {
			return nil, invalid("field %d has no id", i+1)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, invalid("duplicate field id %q", f.ID)
		}
		seen[f.ID] = i

		if !f.Type.Valid() {
			return nil, invalid("field %q has unknown type %q", f.ID, f.Type)
		}
		if f.Type == schema.FieldSignature {
			signatures++
			if signatures > 1 {
				return nil, invalid("a template may contain only one signature field")
			}
		}

		if err := checkOptions(f); err != nil {
			return nil, err
		}
		if f.Options == nil {
			f.Options = []schema.Option{}
		}
		out = append(out, f)
	}

	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.ID] = i
	}
	for i := range out {
		c := out[i].Condition
		if c == nil {
			continue
		}
		ref, ok := index[c.FieldID]
		if !ok {
			out[i].Condition = nil
			continue
		}
		if ref >= i {
			return nil, invalid("field %q: condition must reference an earlier field", out[i].ID)
		}
		if !knownOperators[c.Operator] {
			return nil, invalid("field %q: unknown condition operator %q", out[i].ID, c.Operator)
		}
	}
	return out, nil
}

func checkOptions(f schema.Field) error {
	if !f.Type.HasOptions() {
		if len(f.Options) > 0 {
			return invalid("field %q: options are only allowed on select and radio fields", f.ID)
		}
		return nil
	}
	values := make(map[string]bool, len(f.Options))
	for _, o := range f.Options {
		if o.Value == "" {
			return invalid("field %q has an option without a value", f.ID)
		}
		if values[o.Value] {
			return invalid("field %q has duplicate option value %q", f.ID, o.Value)
		}
		values[o.Value] = true
	}
	return nil
}
