package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/auth"
	"github.com/petmerch/api/internal/checkout"
	"github.com/petmerch/api/internal/client"
	"github.com/petmerch/api/internal/config"
	"github.com/petmerch/api/internal/handler"
	"github.com/petmerch/api/internal/logging"
	"github.com/petmerch/api/internal/middleware"
	"github.com/petmerch/api/internal/router"
	"github.com/petmerch/api/internal/store"
	"github.com/petmerch/api/internal/tracker"
	ws "github.com/petmerch/api/internal/websocket"
)

const (
	testJWTSecret   = "test-secret-for-e2e"
	settlementDelay = 50 * time.Millisecond
)

// recordingBackend accepts every trigger and never calls back. Tests drive the
// webhook themselves.
type recordingBackend struct {
	mu       sync.Mutex
	triggers []*client.TriggerRequest
}

func (b *recordingBackend) Trigger(_ context.Context, req *client.TriggerRequest) (*client.TriggerResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = append(b.triggers, req)
	return &client.TriggerResult{ID: "run-" + req.DesignID, Status: "IN_QUEUE"}, nil
}

func (b *recordingBackend) IsConfigured() bool { return false }

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.triggers)
}

type appOptions struct {
	webhookSecret string
	backend       client.GenerationBackend
	callbackURL   string
}

type appOption func(*appOptions)

func withWebhookSecret(secret string) appOption {
	return func(o *appOptions) { o.webhookSecret = secret }
}

func withBackend(backend client.GenerationBackend, callbackURL string) appOption {
	return func(o *appOptions) {
		o.backend = backend
		o.callbackURL = callbackURL
	}
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	cfg     *config.Config
	jobs    *store.MemoryJobStore
	storage *client.MockStorageClient
	backend *recordingBackend
}

// setupApp builds the same app as main.go in the simulation profile, with
// in-memory stores, mock storage and the deterministic payment simulator.
func setupApp(t *testing.T, opts ...appOption) *testApp {
	t.Helper()

	o := appOptions{callbackURL: "http://localhost:8000/api/webhooks/runpod"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &config.Config{
		Profile: config.ProfileSimulation,
		Server:  config.ServerConfig{Port: "0", Env: "test", LogLevel: "error"},
		Upload: config.UploadConfig{
			MaxFiles:      5,
			MaxFileSize:   5 * 1024 * 1024,
			AcceptedTypes: []string{"image/jpeg", "image/png", "image/webp"},
		},
		Polling:   config.PollingConfig{Interval: 2 * time.Second, MaxNotFound: 3},
		Store:     config.StoreConfig{Driver: config.StoreMemory},
		Storage:   config.StorageConfig{Provider: config.StorageMock},
		RunPod:    config.RunPodConfig{WebhookSecret: o.webhookSecret, CallbackURL: o.callbackURL},
		Payment:   config.PaymentConfig{Provider: config.PaymentSimulator, SettlementDelay: settlementDelay},
		JWT:       config.JWTConfig{Secret: testJWTSecret},
		RateLimit: config.RateLimitConfig{DesignsPerHour: 10000, PaymentsPerHour: 10000},
	}

	log := logging.Nop()
	jobs := store.NewMemoryJobStore()
	storage := client.NewMockStorageClient("")
	recorder := &recordingBackend{}

	var backend client.GenerationBackend = recorder
	if o.backend != nil {
		backend = o.backend
	}

	hub := ws.NewHub(log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	launcher := tracker.NewLauncher(jobs, backend, cfg.WebhookURL(), hub, log)
	designs := tracker.New(jobs, storage, tracker.NewDirectDispatcher(launcher), hub, tracker.Options{
		MaxFiles:    cfg.Upload.MaxFiles,
		MaxFileSize: cfg.Upload.MaxFileSize,
	}, log)

	checkoutService := checkout.NewService(store.NewMemorySessionStore(), designs, checkout.NewSimulatedAuthorizer(0), nil, checkout.ServiceOptions{
		SettlementDelay: cfg.Payment.SettlementDelay,
	}, log)

	app := router.New(router.Deps{
		Config:   cfg,
		Log:      log,
		Auth:     middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Required),
		Limiter:  middleware.NewRateLimiter(nil, log),
		Health:   handler.NewHealthHandler(cfg.Profile, jobs, nil, storage, backend),
		Catalog:  handler.NewCatalogHandler(cfg),
		Designs:  handler.NewDesignHandler(designs, hub),
		Webhooks: handler.NewWebhookHandler(designs, cfg.RunPod.WebhookSecret, log),
		Checkout: handler.NewCheckoutHandler(checkoutService, validator.New()),
	})

	t.Cleanup(func() {
		_ = app.Shutdown()
		checkoutService.Close()
		stopHub()
	})

	return &testApp{
		app:     app,
		cfg:     cfg,
		jobs:    jobs,
		storage: storage,
		backend: recorder,
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as the given user.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// mustRequest performs a request and fails the test on transport errors.
func mustRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, nil)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// toJSON marshals v for a request body.
func toJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return string(b)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an API error body.
func errorCode(body map[string]interface{}) string {
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}
