package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-forms/internal/model"
	"github.com/jwalitptl/clinic-forms/pkg/formclient"
	"github.com/jwalitptl/clinic-forms/pkg/forms/manager"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

type fakeAPI struct {
	manager.API

	templates   []schema.Template
	listClinic  string
	published   []uuid.UUID
	publisher   *string
	deleted     []uuid.UUID
	saved       []schema.SaveTemplateRequest
	submissions []schema.CreateSubmissionRequest
	err         error
}

func (f *fakeAPI) ListTemplates(ctx context.Context, clinicID string) ([]schema.Template, error) {
	f.listClinic = clinicID
	return f.templates, nil
}

func (f *fakeAPI) Publish(ctx context.Context, id uuid.UUID, by *string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, id)
	f.publisher = by
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) Export(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	return []byte(`{"format":1}`), "intake-v2.json", nil
}

func (f *fakeAPI) SaveTemplate(ctx context.Context, req schema.SaveTemplateRequest) (*schema.Template, error) {
	f.saved = append(f.saved, req)
	return &schema.Template{ID: uuid.New(), ClinicID: req.ClinicID, Name: req.Name, Version: req.Version, Fields: req.Fields}, nil
}

func (f *fakeAPI) CreateSubmission(ctx context.Context, req schema.CreateSubmissionRequest) (*schema.Submission, error) {
	f.submissions = append(f.submissions, req)
	return &schema.Submission{ID: uuid.New(), TemplateID: req.TemplateID}, nil
}

func (f *fakeAPI) ListSubmissions(ctx context.Context, id uuid.UUID) ([]schema.Submission, error) {
	return []schema.Submission{{ID: uuid.New(), TemplateID: id, Data: schema.Answers{"a": "x"}}}, nil
}

func (f *fakeAPI) ListVersions(ctx context.Context, id uuid.UUID) ([]schema.Version, error) {
	by := "dr.who"
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return []schema.Version{
		{Version: 2, ChangeLog: "Added consent", PublishedAt: &at, PublishedBy: &by},
		{Version: 1, ChangeLog: "Initial version"},
	}, nil
}

var (
	clinic = uuid.MustParse("7d7a7f38-8c1e-4b8e-9a57-0b5a5b1d2c11")
	intake = schema.Template{
		ID:       uuid.MustParse("0f8c2a59-5d4f-4b61-a1f3-2a1c3c7e9b01"),
		ClinicID: clinic,
		Name:     "Intake",
		Version:  2,
		Category: "intake",
		Fields: schema.Fields{
			{ID: "name", Type: schema.FieldText, Label: "Name", Required: true},
			{ID: "smoker", Type: schema.FieldCheckbox, Label: "Smoker"},
			{ID: "packs", Type: schema.FieldNumber, Label: "Packs per day",
				Condition: &schema.Condition{FieldID: "smoker", Operator: schema.OpEquals, Value: true}},
		},
	}
	consent = schema.Template{ID: uuid.New(), ClinicID: clinic, Name: "Consent", Version: 1, IsPublished: true, Category: "legal"}
)

func run(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FORMS_CLINIC_ID", clinic.String())
	t.Setenv("FORMS_USER", "dr.who")

	var out bytes.Buffer
	a := newApp(&out)
	a.newAPI = func(Config) manager.API { return api }
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	api := &fakeAPI{templates: []schema.Template{intake, consent}}

	out, err := run(t, api, "templates", "list", "--status", schema.StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, clinic.String(), api.listClinic)
	assert.Contains(t, out, "Consent")
	assert.NotContains(t, out, "Intake")

	out, err = run(t, api, "templates", "list", "--json")
	require.NoError(t, err)
	var list schema.TemplateList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list.Templates, 2)
}

func TestPublishUsesConfiguredUser(t *testing.T) {
	api := &fakeAPI{templates: []schema.Template{intake}}

	out, err := run(t, api, "templates", "publish", intake.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{intake.ID}, api.published)
	require.NotNil(t, api.publisher)
	assert.Equal(t, "dr.who", *api.publisher)
	assert.Contains(t, out, "[success] Template published")
}

func TestPublishSurfacesServerMessage(t *testing.T) {
	api := &fakeAPI{
		templates: []schema.Template{intake},
		err:       &formclient.APIError{Status: 404, Message: "form template not found"},
	}

	out, err := run(t, api, "templates", "publish", intake.ID.String())
	require.Error(t, err)
	assert.Contains(t, out, "[error] form template not found")
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	api := &fakeAPI{templates: []schema.Template{intake}}

	_, err := run(t, api, "templates", "delete", intake.ID.String())
	assert.ErrorIs(t, err, manager.ErrNotConfirmed)
	assert.Empty(t, api.deleted)

	_, err = run(t, api, "templates", "delete", "--yes", intake.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{intake.ID}, api.deleted)
}

func TestExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{templates: []schema.Template{intake}}

	out, err := run(t, api, "templates", "export", "--dir", dir, intake.ID.String())
	require.NoError(t, err)
	path := filepath.Join(dir, "intake-v2.json")
	assert.Contains(t, out, path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":1}`, string(raw))
}

func TestVersions(t *testing.T) {
	api := &fakeAPI{templates: []schema.Template{intake}}

	out, err := run(t, api, "templates", "versions", intake.ID.String())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "v2")
	assert.Contains(t, lines[1], "by dr.who")
	assert.Contains(t, lines[2], "Initial version")
}

func TestSubmit(t *testing.T) {
	dir := t.TempDir()
	answers := filepath.Join(dir, "answers.json")
	require.NoError(t, os.WriteFile(answers, []byte(`{"name":"Ada","smoker":false,"packs":3}`), 0o600))
	api := &fakeAPI{templates: []schema.Template{intake}}

	out, err := run(t, api, "submit", "--answers", answers, "--preview", intake.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Name*")
	assert.NotContains(t, out, "Packs per day", "hidden while smoker is false")
	assert.Empty(t, api.submissions)

	out, err = run(t, api, "submit", "--answers", answers, intake.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Form submitted successfully")
	require.Len(t, api.submissions, 1)
	sub := api.submissions[0]
	assert.Equal(t, intake.ID, sub.TemplateID)
	assert.Equal(t, "Ada", sub.Data["name"])
	assert.EqualValues(t, 3, sub.Data["packs"], "hidden answers are kept")
	assert.Nil(t, sub.SignatureDataURL)
}

func TestImport(t *testing.T) {
	file := filepath.Join(t.TempDir(), "intake.json")
	raw, err := json.Marshal(schema.Export{Format: schema.ExportFormat, ID: intake.ID.String(), Name: "Intake", Version: 2, Fields: intake.Fields})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, raw, 0o600))
	api := &fakeAPI{}

	_, err = run(t, api, "import", file)
	require.NoError(t, err)
	require.Len(t, api.saved, 1)
	assert.Nil(t, api.saved[0].ID)
	assert.Equal(t, clinic, api.saved[0].ClinicID)
	assert.Len(t, api.saved[0].Fields, 3)
}

func TestInvalidClinicID(t *testing.T) {
	_, err := run(t, &fakeAPI{}, "--clinic", "nope", "templates", "list")
	assert.ErrorContains(t, err, "invalid clinic id")
}

type fakeBroker struct {
	messages [][]byte
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return errors.New("read only")
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, len(b.messages))
	for _, m := range b.messages {
		ch <- m
	}
	close(ch)
	return ch, nil
}

func (b *fakeBroker) Close() error { return nil }

func TestStreamEvents(t *testing.T) {
	evt, err := model.NewOutboxEvent(model.EventTemplatePublished, intake.ID, model.TemplateEvent{Name: "Intake"})
	require.NoError(t, err)
	evt.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(evt.Envelope())
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	a := &app{out: &out, cfg: Config{EventsChannel: "forms.events"}}
	cmd := &cobra.Command{}
	cmd.SetErr(&errOut)
	cmd.SetContext(context.Background())

	require.NoError(t, streamEvents(cmd, a, &fakeBroker{messages: [][]byte{raw, []byte("nope")}}))
	assert.Contains(t, out.String(), "2026-03-01T09:00:00Z\tform.template.published\t"+intake.ID.String())
	assert.Contains(t, errOut.String(), "skipping malformed event")
}
