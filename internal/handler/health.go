package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/petmerch/api/internal/client"
	"github.com/petmerch/api/internal/store"
)

type HealthHandler struct {
	profile string
	jobs    store.JobStore
	redis   *redis.Client
	storage client.StorageClient
	backend client.GenerationBackend
}

func NewHealthHandler(profile string, jobs store.JobStore, redisClient *redis.Client, storage client.StorageClient, backend client.GenerationBackend) *HealthHandler {
	return &HealthHandler{
		profile: profile,
		jobs:    jobs,
		redis:   redisClient,
		storage: storage,
		backend: backend,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}

// Health handles GET /health. A failing job store marks the service degraded.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	storeOK := h.jobs.Ping(ctx) == nil
	if !storeOK {
		status = "degraded"
	}

	redisOK := false
	if h.redis != nil {
		redisOK = h.redis.Ping(ctx).Err() == nil
	}

	code := fiber.StatusOK
	if !storeOK {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"profile": h.profile,
		"services": fiber.Map{
			"database": storeOK,
			"redis":    redisOK,
			"storage":  h.storage.IsConfigured(),
			"runpod":   h.backend.IsConfigured(),
		},
	})
}
