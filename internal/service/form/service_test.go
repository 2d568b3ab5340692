package form

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-forms/internal/model"
	apperrors "github.com/jwalitptl/clinic-forms/pkg/errors"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
	"github.com/jwalitptl/clinic-forms/pkg/forms/signature"
	"github.com/jwalitptl/clinic-forms/pkg/logger"
	"github.com/jwalitptl/clinic-forms/pkg/metrics"
)

var (
	clinicID = uuid.MustParse("6f1d3a52-9f55-4a71-bd0a-0c0d7f0b9a11")
	baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, store *memStore) *Service {
	t.Helper()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "json", Output: io.Discard})
	svc := NewService(store, Config{}, log, metrics.New("test", nil))
	clock := baseTime
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc
}

func textField(id string) schema.Field {
	return schema.Field{ID: id, Type: schema.FieldText, Label: id}
}

func createTemplate(t *testing.T, svc *Service, fields ...schema.Field) *schema.Template {
	t.Helper()
	tmpl, err := svc.SaveTemplate(context.Background(), schema.SaveTemplateRequest{
		ClinicID: clinicID,
		Name:     "Intake",
		Fields:   fields,
	})
	require.NoError(t, err)
	return tmpl
}

func signatureURL(t *testing.T) string {
	t.Helper()
	url, err := signature.EncodeDataURL(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	return url
}

func TestSaveTemplate_Create(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)

	tmpl, err := svc.SaveTemplate(context.Background(), schema.SaveTemplateRequest{
		ClinicID: clinicID,
		Name:     "  Intake  ",
		Fields:   schema.Fields{textField("name")},
		Tags:     []string{"new", " new ", ""},
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tmpl.ID)
	assert.Equal(t, "Intake", tmpl.Name)
	assert.Equal(t, 1, tmpl.Version)
	assert.False(t, tmpl.IsPublished)
	assert.Equal(t, []string{"new"}, []string(tmpl.Tags))
	assert.NotNil(t, tmpl.Fields[0].Options, "options normalize to an empty list")

	versions, err := svc.ListVersions(context.Background(), tmpl.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Nil(t, versions[0].PublishedAt)

	assert.Equal(t, []string{model.EventTemplateCreated}, store.eventTypes())
}

func TestSaveTemplate_Validation(t *testing.T) {
	sig := schema.Field{ID: "sig", Type: schema.FieldSignature}
	tests := []struct {
		name   string
		req    schema.SaveTemplateRequest
		errMsg string
	}{
		{
			name:   "blank name",
			req:    schema.SaveTemplateRequest{ClinicID: clinicID, Name: "   "},
			errMsg: "template name is required",
		},
		{
			name:   "duplicate ids",
			req:    schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{textField("a"), textField("a")}},
			errMsg: `duplicate field id "a"`,
		},
		{
			name:   "unknown type",
			req:    schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{{ID: "a", Type: "slider"}}},
			errMsg: `field "a" has unknown type "slider"`,
		},
		{
			name: "options on text",
			req: schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{
				{ID: "a", Type: schema.FieldText, Options: []schema.Option{{Value: "1", Label: "One"}}},
			}},
			errMsg: "options are only allowed on select and radio fields",
		},
		{
			name:   "two signatures",
			req:    schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{sig, {ID: "sig2", Type: schema.FieldSignature}}},
			errMsg: "only one signature field",
		},
		{
			name: "condition on later field",
			req: schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{
				{ID: "a", Type: schema.FieldText, Condition: &schema.Condition{FieldID: "b", Operator: schema.OpExists}},
				textField("b"),
			}},
			errMsg: "condition must reference an earlier field",
		},
		{
			name: "unknown operator",
			req: schema.SaveTemplateRequest{ClinicID: clinicID, Name: "x", Fields: schema.Fields{
				textField("a"),
				{ID: "b", Type: schema.FieldText, Condition: &schema.Condition{FieldID: "a", Operator: "matches"}},
			}},
			errMsg: "unknown condition operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(t, store)

			_, err := svc.SaveTemplate(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTemplate))
			assert.Contains(t, err.Error(), tt.errMsg)

			appErr, ok := apperrors.From(err)
			require.True(t, ok)
			assert.Equal(t, 400, appErr.HTTPStatus())
			assert.Empty(t, store.state.templates)
			assert.Empty(t, store.state.outbox)
		})
	}
}

func TestSaveTemplate_PrunesDanglingCondition(t *testing.T) {
	svc := newTestService(t, newMemStore())

	tmpl := createTemplate(t, svc,
		textField("a"),
		schema.Field{ID: "b", Type: schema.FieldText, Condition: &schema.Condition{FieldID: "removed", Operator: schema.OpExists}},
	)
	assert.Nil(t, tmpl.Fields[1].Condition)
}

func TestSaveTemplate_VersionBump(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"))

	update := func(version int, fields ...schema.Field) *schema.Template {
		t.Helper()
		saved, err := svc.SaveTemplate(ctx, schema.SaveTemplateRequest{
			ID:       &tmpl.ID,
			ClinicID: clinicID,
			Name:     "Intake",
			Version:  version,
			Fields:   fields,
		})
		require.NoError(t, err)
		return saved
	}

	saved := update(1, textField("a"), textField("b"))
	assert.Equal(t, 2, saved.Version, "schema change without a raised version bumps it")

	saved = update(2, textField("a"), textField("b"))
	assert.Equal(t, 2, saved.Version, "unchanged schema keeps the version")

	saved = update(5, textField("a"))
	assert.Equal(t, 5, saved.Version, "author chosen version wins when higher")

	saved = update(3, textField("a"))
	assert.Equal(t, 5, saved.Version, "versions never go backwards")

	versions, err := svc.ListVersions(ctx, tmpl.ID)
	require.NoError(t, err)
	got := make([]int, len(versions))
	for i, v := range versions {
		got[i] = v.Version
	}
	assert.Equal(t, []int{5, 2, 1}, got)
}

func TestSaveTemplate_UpdateUnknown(t *testing.T) {
	svc := newTestService(t, newMemStore())
	id := uuid.New()

	_, err := svc.SaveTemplate(context.Background(), schema.SaveTemplateRequest{ID: &id, ClinicID: clinicID, Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
	appErr, ok := apperrors.From(err)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.HTTPStatus())
}

func TestPublish_StampsLatestVersionOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"))
	first := "dr.who"
	second := "dr.no"

	require.NoError(t, svc.Publish(ctx, tmpl.ID, &first))
	require.NoError(t, svc.Unpublish(ctx, tmpl.ID))
	require.NoError(t, svc.Publish(ctx, tmpl.ID, &second))

	got, err := store.Templates().Get(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublished)

	versions, err := svc.ListVersions(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsPublished)
	require.NotNil(t, versions[0].PublishedBy)
	assert.Equal(t, first, *versions[0].PublishedBy)

	assert.Equal(t, []string{
		model.EventTemplateCreated,
		model.EventTemplatePublished,
		model.EventTemplateUnpublished,
		model.EventTemplatePublished,
	}, store.eventTypes())
}

func TestPublish_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"))
	store.failOn = "template.publish"

	err := svc.Publish(ctx, tmpl.ID, nil)
	require.ErrorIs(t, err, errInjected)

	got, err := store.Templates().Get(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPublished)
	assert.Equal(t, []string{model.EventTemplateCreated}, store.eventTypes())
}

func TestPublish_UnknownTemplate(t *testing.T) {
	svc := newTestService(t, newMemStore())
	err := svc.Publish(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	src := createTemplate(t, svc, schema.Field{
		ID: "pick", Type: schema.FieldSelect,
		Options: []schema.Option{{Value: "1", Label: "One"}},
	})
	require.NoError(t, svc.Publish(ctx, src.ID, nil))

	dup, err := svc.Duplicate(ctx, src.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Intake (Copy)", dup.Name)
	assert.Equal(t, 1, dup.Version)
	assert.False(t, dup.IsPublished)
	assert.Equal(t, src.Fields, dup.Fields)

	dup.Fields[0].Options[0].Label = "changed"
	orig, err := store.Templates().Get(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "One", orig.Fields[0].Options[0].Label)

	named, err := svc.Duplicate(ctx, src.ID, " Follow-up ")
	require.NoError(t, err)
	assert.Equal(t, "Follow-up", named.Name)

	versions, err := svc.ListVersions(ctx, named.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "Duplicated from Intake", versions[0].ChangeLog)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore())
	tmpl := createTemplate(t, svc, textField("a"))

	require.NoError(t, svc.Delete(ctx, tmpl.ID))

	list, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, svc.Delete(ctx, tmpl.ID), ErrTemplateNotFound)
	_, _, err = svc.Export(ctx, tmpl.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestSetFavorite(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemStore())
	tmpl := createTemplate(t, svc, textField("a"))

	require.NoError(t, svc.SetFavorite(ctx, tmpl.ID, true))
	list, err := svc.ListTemplates(ctx, &clinicID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsFavorite)
}

func TestExport(t *testing.T) {
	svc := newTestService(t, newMemStore())
	tmpl := createTemplate(t, svc, textField("a"))

	exp, filename, err := svc.Export(context.Background(), tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExportFormat, exp.Format)
	assert.Equal(t, tmpl.ID.String(), exp.ID)
	assert.Equal(t, "Intake", exp.Name)
	assert.Equal(t, []string{}, exp.Tags)
	assert.Len(t, exp.Fields, 1)
	assert.Equal(t, "intake-v1.json", filename)
}

func TestExportFilename(t *testing.T) {
	tests := map[string]string{
		"Patient Intake (2024)": "patient-intake-2024-v3.json",
		"  ":                    "form-v3.json",
		"Consent / HIPAA":       "consent-hipaa-v3.json",
	}
	for name, want := range tests {
		assert.Equal(t, want, ExportFilename(&schema.Template{Name: name, Version: 3}), name)
	}
}

func TestCreateSubmission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"), schema.Field{ID: "sig", Type: schema.FieldSignature})
	sig := signatureURL(t)
	clientID := uuid.New()

	sub, err := svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{
		TemplateID:       tmpl.ID,
		ClientID:         &clientID,
		Data:             schema.Answers{"a": "hello"},
		SignatureDataURL: &sig,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.ID, sub.TemplateID)
	assert.Nil(t, sub.SubmittedBy)
	require.NotNil(t, sub.SignatureDataURL)

	empty := ""
	unsigned, err := svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{TemplateID: tmpl.ID, SignatureDataURL: &empty})
	require.NoError(t, err)
	assert.Nil(t, unsigned.SignatureDataURL)
	assert.NotNil(t, unsigned.Data)

	subs, err := svc.ListSubmissions(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, unsigned.ID, subs[0].ID, "newest first")

	assert.Contains(t, store.eventTypes(), model.EventSubmissionCreated)
}

func TestCreateSubmission_Rejects(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"))

	_, err := svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{TemplateID: uuid.New()})
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	bad := "data:image/png;base64,AAAA"
	_, err = svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{TemplateID: tmpl.ID, SignatureDataURL: &bad})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	assert.Empty(t, store.state.submissions)
}

func TestCreateSubmission_RejectsOversizedSignature(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, schema.Field{ID: "sig", Type: schema.FieldSignature})

	huge, err := signature.EncodeDataURL(image.NewGray(image.Rect(0, 0, signature.MaxWidth+1, 1)))
	require.NoError(t, err)

	_, err = svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{TemplateID: tmpl.ID, SignatureDataURL: &huge})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, signature.ErrImageTooLarge)

	appErr, ok := apperrors.From(err)
	require.True(t, ok)
	assert.Equal(t, 400, appErr.HTTPStatus())
	assert.Equal(t, "signature_data_url image exceeds 1200x400", appErr.Message)
	assert.Empty(t, store.state.submissions)
}

func TestListTemplates_ReadModel(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc,
		schema.Field{ID: "name", Type: schema.FieldText, Required: true},
		schema.Field{ID: "smoker", Type: schema.FieldCheckbox},
		schema.Field{ID: "packs", Type: schema.FieldNumber, Required: true,
			Condition: &schema.Condition{FieldID: "smoker", Operator: schema.OpEquals, Value: true}},
		schema.Field{ID: "sig", Type: schema.FieldSignature, Required: true},
	)
	sig := signatureURL(t)
	started := baseTime.Add(-time.Hour)

	submit := func(data schema.Answers, signature *string, startedAt *time.Time) {
		t.Helper()
		_, err := svc.CreateSubmission(ctx, schema.CreateSubmissionRequest{
			TemplateID: tmpl.ID, Data: data, SignatureDataURL: signature, StartedAt: startedAt,
		})
		require.NoError(t, err)
	}
	// complete: packs hidden because smoker is unset
	submit(schema.Answers{"name": "Ann"}, &sig, &started)
	// incomplete: packs visible but missing
	submit(schema.Answers{"name": "Bob", "smoker": true}, &sig, nil)
	// incomplete: no signature
	submit(schema.Answers{"name": "Cy"}, nil, nil)
	// complete
	submit(schema.Answers{"name": "Di", "smoker": true, "packs": 2}, &sig, nil)

	list, err := svc.ListTemplates(ctx, &clinicID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].SubmissionCount)
	assert.Equal(t, 50.0, list[0].CompletionRate)
	assert.Greater(t, list[0].AverageCompletionTime, 3600.0)
}

func TestListTemplates_Cache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, store)
	tmpl := createTemplate(t, svc, textField("a"))

	_, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err)

	store.listErr = errors.New("db down")
	list, err := svc.ListTemplates(ctx, nil)
	require.NoError(t, err, "served from cache")
	assert.Len(t, list, 1)

	require.NoError(t, svc.SetFavorite(ctx, tmpl.ID, true))
	_, err = svc.ListTemplates(ctx, nil)
	assert.Error(t, err, "mutations invalidate the cache")
}
