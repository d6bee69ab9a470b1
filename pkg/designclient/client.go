// Package designclient talks to the design endpoints of the API and implements
// the caller side of the polling contract.
package designclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/tracker"
	"github.com/petmerch/api/pkg/response"
)

// File is one photo to submit
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client is a design API client
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
	maxNotFound  int
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithPolling sets the poll interval and the not-found retry bound
func WithPolling(interval time.Duration, maxNotFound int) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.maxNotFound = maxNotFound
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: tracker.DefaultPollInterval,
		maxNotFound:  tracker.DefaultMaxNotFound,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit uploads photos and starts a design
func (c *Client) Submit(ctx context.Context, files []File, style string) (*model.SubmitDesignResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, strings.ReplaceAll(f.Name, `"`, "")))
		header.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create form part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write form part: %w", err)
		}
	}
	if style != "" {
		if err := w.WriteField("style", style); err != nil {
			return nil, fmt.Errorf("failed to write style: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/designs", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result model.SubmitDesignResponse
	if err := c.do(req, "design", "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches the current snapshot of a design
func (c *Client) Status(ctx context.Context, designID string) (*model.DesignStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/designs/"+designID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result model.DesignStatusResponse
	if err := c.do(req, "design", designID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForResult polls until the design is COMPLETED or FAILED, or ctx ends
func (c *Client) WaitForResult(ctx context.Context, designID string, onUpdate func(*model.DesignStatusResponse)) (*model.DesignStatusResponse, error) {
	return tracker.Poll(ctx, designID, c.Status, tracker.PollOptions{
		Interval:    c.pollInterval,
		MaxNotFound: c.maxNotFound,
		OnUpdate:    onUpdate,
	})
}

// do sends the request and maps API errors onto the model error types.
// 404 becomes NotFoundError and 5xx or transport failures become StorageError,
// which the poll loop treats as retryable.
func (c *Client) do(req *http.Request, resource, id string, result interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return &model.StorageError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.StorageError{Op: "read response", Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return nil
	}

	var apiErr response.ErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	message := apiErr.Error.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &model.NotFoundError{Resource: resource, ID: id}
	case resp.StatusCode == http.StatusBadRequest:
		vErr := model.NewValidationError("", message)
		if details, ok := apiErr.Error.Details.(map[string]interface{}); ok {
			vErr.Details = make(map[string]string, len(details))
			for k, v := range details {
				vErr.Details[k] = fmt.Sprint(v)
			}
		}
		return vErr
	case resp.StatusCode >= 500:
		return &model.StorageError{Op: req.Method + " " + req.URL.Path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, message)}
	default:
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, message)
	}
}
