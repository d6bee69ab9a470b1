package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/config"
)

// TriggerRequest asks the generation backend to start a design
type TriggerRequest struct {
	DesignID    string
	Style       string
	ImageURLs   []string
	CallbackURL string
}

// TriggerResult is the backend's acknowledgement
type TriggerResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GenerationBackend runs design generation and reports back through the webhook
type GenerationBackend interface {
	Trigger(ctx context.Context, req *TriggerRequest) (*TriggerResult, error)
	IsConfigured() bool
}

// RunPodClient implements GenerationBackend for a RunPod serverless endpoint
type RunPodClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	endpointID string
	log        zerolog.Logger
}

type runPodInput struct {
	DesignID  string   `json:"designId"`
	Style     string   `json:"style"`
	ImageURLs []string `json:"imageUrls"`
	Callback  string   `json:"callback"`
}

type runPodRunRequest struct {
	Input runPodInput `json:"input"`
}

// NewRunPodClient creates a new RunPod API client
func NewRunPodClient(cfg *config.RunPodConfig, log zerolog.Logger) *RunPodClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RunPodClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		endpointID: cfg.EndpointID,
		log:        log.With().Str("client", "runpod").Logger(),
	}
}

// Trigger submits an async run. Progress arrives later on the callback URL.
func (c *RunPodClient) Trigger(ctx context.Context, req *TriggerRequest) (*TriggerResult, error) {
	body := runPodRunRequest{
		Input: runPodInput{
			DesignID:  req.DesignID,
			Style:     req.Style,
			ImageURLs: req.ImageURLs,
			Callback:  req.CallbackURL,
		},
	}

	var result TriggerResult
	if err := c.post(ctx, fmt.Sprintf("/v2/%s/run", c.endpointID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post sends a POST request with JSON body
func (c *RunPodClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *RunPodClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("runpod API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *RunPodClient) IsConfigured() bool {
	return c.apiKey != "" && c.endpointID != ""
}
