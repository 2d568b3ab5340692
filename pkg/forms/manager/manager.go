// Package manager lists and filters templates, drives their lifecycle, and
// hosts the builder and runner as exclusive sub-views.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/clinic-forms/pkg/forms/builder"
	"github.com/jwalitptl/clinic-forms/pkg/forms/runner"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

var (
	ErrNotConfirmed     = errors.New("manager: delete not confirmed")
	ErrBusy             = errors.New("manager: another action is running for this template")
	ErrTemplateNotFound = errors.New("manager: template not in list")
	ErrClosed           = errors.New("manager: closed")
)

const CopySuffix = " (Copy)"

// API is the subset of the forms endpoints the manager and its sub-views
// call. *formclient.Client satisfies it.
type API interface {
	builder.Saver
	runner.Submitter
	ListTemplates(ctx context.Context, clinicID string) ([]schema.Template, error)
	Publish(ctx context.Context, templateID uuid.UUID, publishedBy *string) error
	Unpublish(ctx context.Context, templateID uuid.UUID) error
	Duplicate(ctx context.Context, templateID uuid.UUID, newName string) (*schema.Template, error)
	Delete(ctx context.Context, templateID uuid.UUID) error
	SetFavorite(ctx context.Context, templateID uuid.UUID, favorite bool) error
	Export(ctx context.Context, templateID uuid.UUID) ([]byte, string, error)
	ListSubmissions(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error)
	ListVersions(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error)
}

// ConfirmFunc asks the user to confirm deleting t.
type ConfirmFunc func(t schema.Template) bool

type ViewMode string

const (
	ViewGrid ViewMode = "grid"
	ViewList ViewMode = "list"
)

type SubView int

const (
	SubViewNone SubView = iota
	SubViewBuilder
	SubViewRunner
)

type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

type Toast struct {
	Kind    ToastKind
	Message string
	At      time.Time
}

// Selection holds the collections loaded for the selected template. Each
// collection is filled independently as its request completes.
type Selection struct {
	Template          schema.Template
	Submissions       []schema.Submission
	Versions          []schema.Version
	SubmissionsLoaded bool
	VersionsLoaded    bool
	SubmissionsErr    error
	VersionsErr       error
}

type Options struct {
	ClinicID    string
	PublishedBy *string
	Now         func() time.Time
}

type Manager struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	api    API
	opts   Options

	templates []schema.Template
	loading   bool
	filter    Filter
	viewMode  ViewMode
	busy      map[uuid.UUID]bool
	toasts    []Toast

	selection *Selection
	selGen    uint64
	selCancel context.CancelFunc

	subView SubView
	builder *builder.Builder
	runner  *runner.Runner

	closed bool
}

func New(ctx context.Context, api API, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		ctx:      ctx,
		cancel:   cancel,
		api:      api,
		opts:     opts,
		filter:   DefaultFilter(),
		viewMode: ViewGrid,
		busy:     make(map[uuid.UUID]bool),
	}
}

// Refresh reloads the template list.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.loading = true
	m.mu.Unlock()

	ctx, cancel := m.bind(ctx)
	defer cancel()
	templates, err := m.api.ListTemplates(ctx, m.opts.ClinicID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	if m.closed {
		return ErrClosed
	}
	if err != nil {
		m.toastLocked(ToastError, err.Error())
		return err
	}

	m.templates = templates
	if m.selection != nil {
		if t, ok := m.findLocked(m.selection.Template.ID); ok {
			m.selection.Template = t
		}
	}
	return nil
}

func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) Templates() []schema.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.Template(nil), m.templates...)
}

func (m *Manager) SetFilter(f Filter) {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
}

func (m *Manager) Filter() Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// Filtered applies the current filter to the fetched list.
func (m *Manager) Filtered() []schema.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FilterTemplates(m.templates, m.filter)
}

func (m *Manager) Categories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Categories(m.templates)
}

func (m *Manager) SetViewMode(mode ViewMode) {
	if mode != ViewGrid && mode != ViewList {
		return
	}
	m.mu.Lock()
	m.viewMode = mode
	m.mu.Unlock()
}

func (m *Manager) ViewMode() ViewMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewMode
}

// Busy reports whether an action is in flight for the template.
func (m *Manager) Busy(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[id]
}

func (m *Manager) Publish(ctx context.Context, id uuid.UUID) error {
	return m.setPublished(ctx, id, true)
}

func (m *Manager) Unpublish(ctx context.Context, id uuid.UUID) error {
	return m.setPublished(ctx, id, false)
}

func (m *Manager) setPublished(ctx context.Context, id uuid.UUID, published bool) error {
	err := m.action(ctx, id, func(ctx context.Context) error {
		if published {
			return m.api.Publish(ctx, id, m.opts.PublishedBy)
		}
		return m.api.Unpublish(ctx, id)
	}, func() string {
		m.patchLocked(id, func(t *schema.Template) { t.IsPublished = published })
		if published {
			return "Template published"
		}
		return "Template unpublished"
	})
	if err != nil {
		return err
	}
	_ = m.Refresh(ctx)
	return nil
}

// SetFavorite marks or unmarks a template as favourite.
func (m *Manager) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	return m.action(ctx, id, func(ctx context.Context) error {
		return m.api.SetFavorite(ctx, id, favorite)
	}, func() string {
		m.patchLocked(id, func(t *schema.Template) { t.IsFavorite = favorite })
		if favorite {
			return "Added to favorites"
		}
		return "Removed from favorites"
	})
}

// Duplicate copies t under the name "<name> (Copy)" and returns the copy.
func (m *Manager) Duplicate(ctx context.Context, t schema.Template) (*schema.Template, error) {
	var dup *schema.Template
	err := m.action(ctx, t.ID, func(ctx context.Context) error {
		var err error
		dup, err = m.api.Duplicate(ctx, t.ID, t.Name+CopySuffix)
		return err
	}, func() string {
		if dup != nil {
			if _, ok := m.findLocked(dup.ID); !ok {
				m.templates = append(m.templates, *dup)
			}
		}
		return "Template duplicated"
	})
	if err != nil {
		return nil, err
	}
	_ = m.Refresh(ctx)
	return dup, nil
}

// Delete removes a template after confirm approves it. Without confirmation
// no request is made.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID, confirm ConfirmFunc) error {
	m.mu.Lock()
	t, ok := m.findLocked(id)
	m.mu.Unlock()
	if !ok {
		t = schema.Template{ID: id}
	}
	if confirm == nil || !confirm(t) {
		return ErrNotConfirmed
	}

	return m.action(ctx, id, func(ctx context.Context) error {
		return m.api.Delete(ctx, id)
	}, func() string {
		for i := range m.templates {
			if m.templates[i].ID == id {
				m.templates = append(m.templates[:i:i], m.templates[i+1:]...)
				break
			}
		}
		if m.selection != nil && m.selection.Template.ID == id {
			m.clearSelectionLocked()
		}
		return "Template deleted"
	})
}

// Export writes the serialized template to w and returns the suggested
// filename. It does not change any state besides the toast list.
func (m *Manager) Export(ctx context.Context, id uuid.UUID, w io.Writer) (string, error) {
	ctx, cancel := m.bind(ctx)
	defer cancel()

	blob, name, err := m.api.Export(ctx, id)
	if err == nil {
		_, err = w.Write(blob)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if err != nil {
		m.toastLocked(ToastError, err.Error())
		return "", err
	}
	m.toastLocked(ToastSuccess, "Template exported")
	return name, nil
}

// ExportFile downloads the template into dir and returns the file path.
func (m *Manager) ExportFile(ctx context.Context, id uuid.UUID, dir string) (string, error) {
	f, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	name, err := m.Export(ctx, id, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// Select makes id the current template and loads its submissions and
// versions concurrently. A later Select cancels the loads of an earlier one.
func (m *Manager) Select(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	t, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return ErrTemplateNotFound
	}
	if m.selCancel != nil {
		m.selCancel()
	}
	m.selGen++
	gen := m.selGen
	ctx, cancel := m.bind(ctx)
	m.selCancel = cancel
	m.selection = &Selection{Template: t}
	m.mu.Unlock()
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		subs, err := m.api.ListSubmissions(ctx, id)
		m.applySelection(gen, func(s *Selection) {
			s.Submissions, s.SubmissionsErr, s.SubmissionsLoaded = subs, err, err == nil
		}, err)
		return err
	})
	g.Go(func() error {
		versions, err := m.api.ListVersions(ctx, id)
		m.applySelection(gen, func(s *Selection) {
			s.Versions, s.VersionsErr, s.VersionsLoaded = versions, err, err == nil
		}, err)
		return err
	})
	return g.Wait()
}

func (m *Manager) applySelection(gen uint64, apply func(*Selection), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.selGen || m.selection == nil {
		return
	}
	apply(m.selection)
	if err != nil {
		m.toastLocked(ToastError, err.Error())
	}
}

// Selection returns a copy of the current selection, or nil.
func (m *Manager) Selection() *Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selection == nil {
		return nil
	}
	s := *m.selection
	s.Submissions = append([]schema.Submission(nil), s.Submissions...)
	s.Versions = append([]schema.Version(nil), s.Versions...)
	return &s
}

func (m *Manager) Deselect() {
	m.mu.Lock()
	m.clearSelectionLocked()
	m.mu.Unlock()
}

func (m *Manager) clearSelectionLocked() {
	if m.selCancel != nil {
		m.selCancel()
		m.selCancel = nil
	}
	m.selGen++
	m.selection = nil
}

// OpenBuilder shows the builder, loaded with t when it is non-nil. Any open
// sub-view is closed first.
func (m *Manager) OpenBuilder(t *schema.Template) (*builder.Builder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.closeSubViewLocked()

	clinicID, _ := uuid.Parse(m.opts.ClinicID)
	b := builder.New(m.ctx, m.api, clinicID)
	if t != nil {
		b.Load(*t)
	}
	m.builder = b
	m.subView = SubViewBuilder
	return b, nil
}

// OpenRunner shows the runner for t. Any open sub-view is closed first.
func (m *Manager) OpenRunner(t schema.Template, opts runner.Options) (*runner.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.closeSubViewLocked()

	r := runner.New(m.ctx, m.api, t, opts)
	m.runner = r
	m.subView = SubViewRunner
	return r, nil
}

// CloseSubView returns to the list. Leaving the builder reloads the list so
// saved edits show up.
func (m *Manager) CloseSubView(ctx context.Context) error {
	m.mu.Lock()
	was := m.subView
	m.closeSubViewLocked()
	m.mu.Unlock()

	if was == SubViewBuilder {
		return m.Refresh(ctx)
	}
	return nil
}

func (m *Manager) closeSubViewLocked() {
	if m.builder != nil {
		m.builder.Close()
		m.builder = nil
	}
	if m.runner != nil {
		m.runner.Close()
		m.runner = nil
	}
	m.subView = SubViewNone
}

func (m *Manager) SubView() SubView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subView
}

func (m *Manager) Builder() *builder.Builder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builder
}

func (m *Manager) Runner() *runner.Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runner
}

func (m *Manager) Toasts() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Toast(nil), m.toasts...)
}

func (m *Manager) DismissToasts() {
	m.mu.Lock()
	m.toasts = nil
	m.mu.Unlock()
}

// Close cancels all in-flight requests and closes any open sub-view. Results
// that arrive afterwards are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.closeSubViewLocked()
	if m.selCancel != nil {
		m.selCancel()
	}
	m.mu.Unlock()
	m.cancel()
}

// action runs one mutating request for a template. The local state is only
// changed by onSuccess, which runs under the lock and returns the toast text.
func (m *Manager) action(ctx context.Context, id uuid.UUID, call func(context.Context) error, onSuccess func() string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.busy[id] {
		m.mu.Unlock()
		return ErrBusy
	}
	m.busy[id] = true
	m.mu.Unlock()

	ctx, cancel := m.bind(ctx)
	defer cancel()
	err := call(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, id)
	if m.closed {
		return ErrClosed
	}
	if err != nil {
		m.toastLocked(ToastError, err.Error())
		return err
	}
	m.toastLocked(ToastSuccess, onSuccess())
	return nil
}

// bind derives a context that is also cancelled when the manager closes.
func (m *Manager) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (m *Manager) findLocked(id uuid.UUID) (schema.Template, bool) {
	for _, t := range m.templates {
		if t.ID == id {
			return t, true
		}
	}
	return schema.Template{}, false
}

func (m *Manager) patchLocked(id uuid.UUID, fn func(*schema.Template)) {
	for i := range m.templates {
		if m.templates[i].ID == id {
			fn(&m.templates[i])
		}
	}
	if m.selection != nil && m.selection.Template.ID == id {
		fn(&m.selection.Template)
	}
}

func (m *Manager) toastLocked(kind ToastKind, msg string) {
	m.toasts = append(m.toasts, Toast{Kind: kind, Message: msg, At: m.opts.Now()})
}
