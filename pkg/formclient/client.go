// Package formclient is a typed HTTP client for the /api/forms endpoints.
package formclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

const DefaultTimeout = 30 * time.Second

// APIError is returned for any non-2xx response. Message carries the
// server's error text unchanged.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client rooted at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListTemplates returns all templates, scoped to clinicID when it is non-empty.
func (c *Client) ListTemplates(ctx context.Context, clinicID string) ([]schema.Template, error) {
	q := url.Values{}
	if clinicID != "" {
		q.Set("clinic_id", clinicID)
	}
	var out schema.TemplateList
	if err := c.do(ctx, http.MethodGet, "/templates", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// SaveTemplate creates a template, or updates it when req.ID is set.
func (c *Client) SaveTemplate(ctx context.Context, req schema.SaveTemplateRequest) (*schema.Template, error) {
	var out schema.Template
	if err := c.do(ctx, http.MethodPost, "/templates", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Publish(ctx context.Context, templateID uuid.UUID, publishedBy *string) error {
	req := schema.TemplateActionRequest{TemplateID: templateID, PublishedBy: publishedBy}
	return c.do(ctx, http.MethodPost, "/templates/publish", nil, req, nil)
}

func (c *Client) Unpublish(ctx context.Context, templateID uuid.UUID) error {
	req := schema.TemplateActionRequest{TemplateID: templateID}
	return c.do(ctx, http.MethodPost, "/templates/unpublish", nil, req, nil)
}

func (c *Client) Duplicate(ctx context.Context, templateID uuid.UUID, newName string) (*schema.Template, error) {
	req := schema.DuplicateTemplateRequest{TemplateID: templateID, NewName: newName}
	var out schema.Template
	if err := c.do(ctx, http.MethodPost, "/templates/duplicate", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, templateID uuid.UUID) error {
	req := schema.TemplateActionRequest{TemplateID: templateID}
	return c.do(ctx, http.MethodPost, "/templates/delete", nil, req, nil)
}

func (c *Client) SetFavorite(ctx context.Context, templateID uuid.UUID, favorite bool) error {
	req := schema.FavoriteTemplateRequest{TemplateID: templateID, Favorite: favorite}
	return c.do(ctx, http.MethodPost, "/templates/favorite", nil, req, nil)
}

// Export downloads the serialized template. The filename comes from the
// Content-Disposition header when present.
func (c *Client) Export(ctx context.Context, templateID uuid.UUID) ([]byte, string, error) {
	q := url.Values{"template_id": {templateID.String()}}
	res, err := c.send(ctx, http.MethodGet, "/templates/export", q, nil)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read export: %w", err)
	}

	filename := templateID.String() + ".json"
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return body, filename, nil
}

func (c *Client) ListSubmissions(ctx context.Context, templateID uuid.UUID) ([]schema.Submission, error) {
	q := url.Values{"form_template_id": {templateID.String()}}
	var out schema.SubmissionList
	if err := c.do(ctx, http.MethodGet, "/submissions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

func (c *Client) CreateSubmission(ctx context.Context, req schema.CreateSubmissionRequest) (*schema.Submission, error) {
	var out schema.Submission
	if err := c.do(ctx, http.MethodPost, "/submissions", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListVersions(ctx context.Context, templateID uuid.UUID) ([]schema.Version, error) {
	q := url.Values{"form_template_id": {templateID.String()}}
	var out schema.VersionList
	if err := c.do(ctx, http.MethodGet, "/versions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	res, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send performs the request and converts non-2xx responses into *APIError.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	endpoint := c.baseURL + "/api/forms" + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, decodeError(res)
	}
	return res, nil
}

func decodeError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(raw, &env) == nil {
		msg = env.Message
		if msg == "" {
			msg = env.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}
	return &APIError{Status: res.StatusCode, Message: msg}
}
