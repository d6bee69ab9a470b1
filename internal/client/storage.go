package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// StorageClient defines the interface for object storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	GetPublicURL(key string) string
	IsConfigured() bool
}

// UploadKey is the object key of the i-th uploaded photo of a design
func UploadKey(designID string, index int, filename string) string {
	return fmt.Sprintf("uploads/%s/%d-%s", designID, index, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		return "image"
	}
	return name
}

// MockStorageClient keeps objects in memory and serves placeholder URLs
type MockStorageClient struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte
	// FailUploads makes every upload fail, for exercising storage errors
	FailUploads bool
}

func NewMockStorageClient(baseURL string) *MockStorageClient {
	if baseURL == "" {
		baseURL = "https://storage.mock.local"
	}
	return &MockStorageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

func (c *MockStorageClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if c.FailUploads {
		return "", fmt.Errorf("mock storage unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload body: %w", err)
	}
	c.mu.Lock()
	c.objects[key] = data
	c.mu.Unlock()
	return c.GetPublicURL(key), nil
}

func (c *MockStorageClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.objects, key)
	c.mu.Unlock()
	return nil
}

func (c *MockStorageClient) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, key)
}

func (c *MockStorageClient) IsConfigured() bool { return false }

// Object returns a stored object
func (c *MockStorageClient) Object(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	return data, ok
}

// Keys returns every stored key
func (c *MockStorageClient) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	return keys
}
