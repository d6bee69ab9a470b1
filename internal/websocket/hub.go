package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/model"
)

// Client represents a WebSocket client. Send is never closed; the hub closes
// Done when it drops the client.
type Client struct {
	DesignID string
	Conn     *websocket.Conn
	Send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a subscriber of one design with a send buffer of size buf
func NewClient(designID string, conn *websocket.Conn, buf int) *Client {
	return &Client{
		DesignID: designID,
		Conn:     conn,
		Send:     make(chan []byte, buf),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub no longer delivers to the client
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues data unless the buffer is full or the client was dropped
func (c *Client) offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by design ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Broadcast messages to design subscribers
	broadcast chan *BroadcastMessage

	// done is closed when Run returns
	done chan struct{}

	log zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	DesignID string
	Message  []byte
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws-hub").Logger(),
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.clients[client.DesignID] == nil {
				h.clients[client.DesignID] = make(map[*Client]bool)
			}
			h.clients[client.DesignID][client] = true
			h.log.Debug().Str("design_id", client.DesignID).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.log.Debug().Str("design_id", client.DesignID).Msg("client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients[msg.DesignID] {
				if !client.offer(msg.Message) {
					// Slow consumer
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.DesignID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	client.close()
	if len(clients) == 0 {
		delete(h.clients, client.DesignID)
	}
}

// Register adds a new client. After shutdown the client is closed at once.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client. It does not block once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

// Notify pushes a job change to its subscribers
func (h *Hub) Notify(job *model.DesignJob) {
	switch job.Status {
	case model.DesignStatusCompleted:
		h.BroadcastComplete(job.ID, model.NewDesignStatusResponse(job))
	case model.DesignStatusFailed:
		message := "Generation failed"
		if job.Error != nil {
			message = *job.Error
		}
		h.BroadcastError(job.ID, "GENERATION_FAILED", message)
	default:
		h.BroadcastProgress(job.ID, job.Progress, job.Status, job.CurrentStep)
	}
}

// BroadcastProgress sends a progress update to all design subscribers
func (h *Hub) BroadcastProgress(designID string, progress int, status model.DesignStatus, step string) {
	h.send(designID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		DesignID:    designID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends the finished design to all subscribers
func (h *Hub) BroadcastComplete(designID string, result *model.DesignStatusResponse) {
	h.send(designID, model.WSCompleteMessage{
		Type:     model.WSMessageTypeComplete,
		DesignID: designID,
		Result:   result,
	})
}

// BroadcastError sends an error message to all design subscribers
func (h *Hub) BroadcastError(designID string, code, message string) {
	h.send(designID, model.WSErrorMessage{
		Type:     model.WSMessageTypeError,
		DesignID: designID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) send(designID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("design_id", designID).Msg("failed to marshal message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{DesignID: designID, Message: data}:
	default:
		h.log.Warn().Str("design_id", designID).Msg("broadcast queue full, dropping message")
	}
}

// HandleConnection serves one subscriber. The current snapshot is sent first.
func (h *Hub) HandleConnection(c *websocket.Conn, snapshot *model.DesignStatusResponse) {
	client := NewClient(snapshot.ID, c, 256)

	h.Register(client)
	defer h.Unregister(client)

	if data, err := json.Marshal(model.WSSnapshotMessage{
		Type:     model.WSMessageTypeSnapshot,
		DesignID: snapshot.ID,
		Design:   snapshot,
	}); err == nil {
		client.offer(data)
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.Done():
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("design_id", snapshot.ID).Msg("websocket error")
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.offer(data)
		}
	}
}
