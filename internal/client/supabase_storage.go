package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	storage "github.com/supabase-community/storage-go"

	"github.com/petmerch/api/internal/config"
)

// SupabaseStorageClient implements StorageClient for Supabase Storage
type SupabaseStorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewSupabaseStorageClient(cfg *config.StorageConfig) (*SupabaseStorageClient, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("Supabase storage configuration incomplete")
	}

	baseURL := strings.TrimRight(cfg.SupabaseURL, "/")
	return &SupabaseStorageClient{
		client:  storage.NewClient(baseURL+"/storage/v1", cfg.SupabaseKey, nil),
		bucket:  cfg.Bucket,
		baseURL: baseURL,
	}, nil
}

// Upload stores an object, replacing any previous version under the same key.
// storage-go does not take a context; the call is bounded by its HTTP client.
func (s *SupabaseStorageClient) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, body, storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return s.GetPublicURL(key), nil
}

func (s *SupabaseStorageClient) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("failed to delete from Supabase: %w", err)
	}
	return nil
}

func (s *SupabaseStorageClient) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

func (s *SupabaseStorageClient) IsConfigured() bool {
	return s.client != nil && s.bucket != ""
}
