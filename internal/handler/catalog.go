package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/catalog"
	"github.com/petmerch/api/internal/checkout"
	"github.com/petmerch/api/internal/config"
	"github.com/petmerch/api/pkg/response"
)

type CatalogHandler struct {
	cfg *config.Config
}

func NewCatalogHandler(cfg *config.Config) *CatalogHandler {
	return &CatalogHandler{cfg: cfg}
}

// Styles handles GET /api/styles
func (h *CatalogHandler) Styles(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"styles": catalog.Styles()})
}

// Products handles GET /api/products
func (h *CatalogHandler) Products(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"products": catalog.Products()})
}

// Config handles GET /api/config with the client-facing settings of the active profile
func (h *CatalogHandler) Config(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"profile":               h.cfg.Profile,
		"pollIntervalMs":        h.cfg.Polling.Interval.Milliseconds(),
		"maxFiles":              h.cfg.Upload.MaxFiles,
		"maxFileSize":           h.cfg.Upload.MaxFileSize,
		"acceptedTypes":         h.cfg.Upload.AcceptedTypes,
		"freeShippingThreshold": checkout.FreeShippingThreshold.StringFixed(2),
		"flatShippingRate":      checkout.FlatShippingRate.StringFixed(2),
		"taxRate":               checkout.TaxRate.String(),
		"defaultStyle":          catalog.DefaultStyle,
	})
}
