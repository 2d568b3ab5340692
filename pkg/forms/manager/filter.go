package manager

import (
	"sort"
	"strings"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

const (
	CategoryAll = "all"
	StatusAll   = "all"
)

// Filter narrows the template list. All criteria must match.
type Filter struct {
	Search   string
	Category string
	Status   string
}

func DefaultFilter() Filter {
	return Filter{Category: CategoryAll, Status: StatusAll}
}

// FilterTemplates returns the templates matching f, in their original order.
// Search is a case-insensitive substring match on name or description.
func FilterTemplates(templates []schema.Template, f Filter) []schema.Template {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]schema.Template, 0, len(templates))
	for _, t := range templates {
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Name), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		if f.Category != "" && f.Category != CategoryAll && t.Category != f.Category {
			continue
		}
		switch f.Status {
		case schema.StatusPublished:
			if !t.IsPublished {
				continue
			}
		case schema.StatusDraft:
			if t.IsPublished {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// Categories returns the distinct non-empty categories, sorted.
func Categories(templates []schema.Template) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range templates {
		if t.Category == "" {
			continue
		}
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		out = append(out, t.Category)
	}
	sort.Strings(out)
	return out
}
