// Package hub owns the realtime channel: it multiplexes one websocket per
// client, routes named events to handlers, and fans results out to every
// connected client. Persistence and push dispatch failures degrade the chat
// experience gracefully; the broadcast always happens.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parlorchat/parlor/internal/history"
	"github.com/parlorchat/parlor/internal/presence"
	"go.uber.org/zap"
)

const (
	storeTimeout = 5 * time.Second

	ackNotificationsSent = "Notifications sent successfully"
)

var (
	errMissingPresence = errors.New("hub: presence registry is required")
	errMissingHistory  = errors.New("hub: history store is required")
)

// Notifier dispatches a chat message to push subscribers, excluding the
// sender's user id, and reports how many deliveries were attempted.
type Notifier interface {
	Notify(ctx context.Context, content, excludeUserID string) (int, error)
}

// CountReporter pushes the online count to an external display. Calls are
// fire-and-forget.
type CountReporter interface {
	Report(count int)
}

// Config bundles the dependencies for a Hub. Notifier and Reporter are
// optional; the hub runs without push delivery or a display device.
type Config struct {
	Presence *presence.Registry
	History  history.Store
	Notifier Notifier
	Reporter CountReporter
	Logger   *zap.Logger
}

// Hub routes realtime events between connected clients.
type Hub struct {
	presence *presence.Registry
	history  history.Store
	notifier Notifier
	reporter CountReporter
	logger   *zap.Logger

	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a hub with validated configuration. Run must be started on
// its own goroutine before connections are attached.
func New(cfg Config) (*Hub, error) {
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	if cfg.History == nil {
		return nil, errMissingHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		presence:   cfg.Presence,
		history:    cfg.History,
		notifier:   cfg.Notifier,
		reporter:   cfg.Reporter,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Run owns the client set. Registration and removal are serialized here so a
// connect and a disconnect can never interleave their presence updates.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.presence.Connect(client.id)
			h.logger.Info("client connected",
				zap.String("connection_id", client.id),
				zap.Int("online", h.presence.Count()))
			h.announcePresence()

		case client := <-h.unregister:
			h.mu.Lock()
			_, registered := h.clients[client]
			if registered {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if registered {
				h.presence.Disconnect(client.id)
				h.logger.Info("client disconnected",
					zap.String("connection_id", client.id),
					zap.Int("online", h.presence.Count()))
				h.announcePresence()
			}
		}
	}
}

// HandleConnection attaches an upgraded websocket to the hub and blocks until
// the connection closes.
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	client := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
	}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}
	go client.writePump()
	client.readPump()
}

// Shutdown stops the run loop and closes every client connection.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// handleEvent runs on the owning client's read goroutine, so events from one
// connection are handled strictly in arrival order.
func (h *Hub) handleEvent(client *Client, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		h.logger.Warn("discarding malformed frame",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}

	switch envelope.Event {
	case EventSetName:
		h.handleSetName(client, envelope.Data)
	case EventMessage:
		h.handleMessage(client, envelope.Data)
	case EventPlayAudio, EventPlayAudio2, EventPlayAudio3, EventPlayAudio4:
		// Stateless signal relay: rebroadcast verbatim.
		h.broadcastEvent(envelope.Event, nil)
	default:
		h.logger.Debug("ignoring unknown event",
			zap.String("connection_id", client.id),
			zap.String("event", envelope.Event))
	}
}

func (h *Hub) handleSetName(client *Client, data json.RawMessage) {
	var payload SetNamePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Warn("discarding malformed set_name payload",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}
	h.presence.SetName(client.id, payload.Name)
	h.announcePresence()
}

// handleMessage broadcasts first; persistence and push dispatch are
// best-effort and must not block or fail the broadcast.
func (h *Hub) handleMessage(client *Client, data json.RawMessage) {
	var payload ChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Warn("discarding malformed message payload",
			zap.String("connection_id", client.id),
			zap.Error(err))
		return
	}

	senderName := h.presence.NameOf(client.id)
	h.broadcastEvent(EventMessage, MessagePayload{
		Message: MessageBody{User: senderName, Content: payload.Message},
	})

	insertCtx, cancel := context.WithTimeout(h.ctx, storeTimeout)
	if err := h.history.Insert(insertCtx, senderName, payload.Message); err != nil {
		h.logger.Error("history insert failed",
			zap.String("connection_id", client.id),
			zap.Error(err))
	}
	cancel()

	// Dispatch can take seconds per subscriber; running it here would starve
	// the read loop past its pong deadline. The ack still follows dispatch.
	go func() {
		if h.notifier != nil {
			attempts, err := h.notifier.Notify(h.ctx, payload.Message, payload.UserID)
			if err != nil {
				h.logger.Error("notification dispatch failed",
					zap.String("connection_id", client.id),
					zap.Error(err))
			} else {
				h.logger.Debug("notification dispatch completed",
					zap.String("connection_id", client.id),
					zap.Int("attempts", attempts))
			}
		}
		h.sendEvent(client, EventMessageAck, AckPayload{Message: ackNotificationsSent})
	}()
}

// announcePresence broadcasts the current count and reports it to the display
// device. Called on every connect, disconnect and rename.
func (h *Hub) announcePresence() {
	count := h.presence.Count()
	h.broadcastEvent(EventUpdateOnlineCount, CountPayload{Count: count})
	if h.reporter != nil {
		go h.reporter.Report(count)
	}
}

// broadcastEvent fans one frame out to every connected client. A client whose
// send buffer is full is dropped by closing its connection; its read pump
// unregisters it. Delivery is not atomic across clients and a slow client
// never blocks the rest.
func (h *Hub) broadcastEvent(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("event encoding failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			h.logger.Warn("dropping client with full send buffer",
				zap.String("connection_id", client.id))
			go client.conn.Close()
		}
	}
}

// sendEvent delivers a frame to a single client only.
func (h *Hub) sendEvent(client *Client, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("event encoding failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, registered := h.clients[client]; !registered {
		return
	}
	select {
	case client.send <- frame:
	default:
		h.logger.Warn("dropping frame for client with full send buffer",
			zap.String("connection_id", client.id))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.conn.Close()
		h.presence.Disconnect(client.id)
	}
}
