package handler

import (
	"io"
	"mime/multipart"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/model"
	"github.com/petmerch/api/internal/tracker"
	ws "github.com/petmerch/api/internal/websocket"
	"github.com/petmerch/api/pkg/response"
)

// multipart field names accepted for the photos
var fileFields = []string{"files", "files[]", "images"}

type DesignHandler struct {
	tracker *tracker.Tracker
	hub     *ws.Hub
}

func NewDesignHandler(t *tracker.Tracker, hub *ws.Hub) *DesignHandler {
	return &DesignHandler{
		tracker: t,
		hub:     hub,
	}
}

// Submit handles POST /api/designs
func (h *DesignHandler) Submit(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Expected a multipart form with image files", nil)
	}

	var files []*multipart.FileHeader
	for _, field := range fileFields {
		files = append(files, form.File[field]...)
	}

	req := &tracker.SubmitRequest{
		Images: make([]tracker.Upload, 0, len(files)),
		Style:  c.FormValue("style"),
	}
	for _, fh := range files {
		fh := fh
		req.Images = append(req.Images, tracker.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	job, err := h.tracker.Submit(c.UserContext(), req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, model.SubmitDesignResponse{
		DesignID:    job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
	})
}

// Status handles GET /api/designs/:designId
func (h *DesignHandler) Status(c *fiber.Ctx) error {
	designID := c.Params("designId")
	if designID == "" {
		return response.ValidationError(c, "Design ID is required", nil)
	}

	result, err := h.tracker.View(c.UserContext(), designID)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.OK(c, result)
}

// Upgrade handles the websocket handshake on /ws/designs/:designId. Unknown
// designs are refused before upgrading.
func (h *DesignHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	snapshot, err := h.tracker.View(c.UserContext(), c.Params("designId"))
	if err != nil {
		return response.FromError(c, err)
	}

	c.Locals("snapshot", snapshot)
	return c.Next()
}

// Stream serves live progress for one design
func (h *DesignHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		snapshot, ok := conn.Locals("snapshot").(*model.DesignStatusResponse)
		if !ok {
			return
		}
		h.hub.HandleConnection(conn, snapshot)
	})
}
