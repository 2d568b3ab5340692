package form

import (
	"math"
	"strings"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
	"github.com/jwalitptl/clinic-forms/pkg/forms/visibility"
)

// applyReadModel fills the backend-owned statistics of t from its submissions.
// CompletionRate is a percentage of submissions that answered every visible
// required field. AverageCompletionTime is in seconds and only counts
// submissions that report when the respondent started.
func applyReadModel(t *schema.Template, subs []schema.Submission) {
	t.SubmissionCount = len(subs)
	t.CompletionRate = 0
	t.AverageCompletionTime = 0
	if len(subs) == 0 {
		return
	}

	complete := 0
	var total float64
	timed := 0
	for _, s := range subs {
		if isComplete(t.Fields, s) {
			complete++
		}
		if s.StartedAt != nil && s.CreatedAt.After(*s.StartedAt) {
			total += s.CreatedAt.Sub(*s.StartedAt).Seconds()
			timed++
		}
	}

	t.CompletionRate = round1(float64(complete) * 100 / float64(len(subs)))
	if timed > 0 {
		t.AverageCompletionTime = round1(total / float64(timed))
	}
}

func isComplete(fields schema.Fields, s schema.Submission) bool {
	for _, f := range fields {
		if !f.Required || !visibility.IsVisible(f, s.Data) {
			continue
		}
		if f.Type == schema.FieldSignature {
			if s.SignatureDataURL == nil || *s.SignatureDataURL == "" {
				return false
			}
			continue
		}
		if !answered(s.Data[f.ID]) {
			return false
		}
	}
	return true
}

func answered(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case bool:
		return x
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
