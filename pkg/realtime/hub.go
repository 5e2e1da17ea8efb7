// Package realtime owns the live connection registry: connection to user
// mapping, channel subscriptions, and message fan-out. It is the only package
// with direct knowledge of transport sockets.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Transport is one live bidirectional connection. Send must not block
// indefinitely; implementations buffer and drop rather than stall the hub.
type Transport interface {
	Send(data []byte) error
	Close() error
}

type connection struct {
	id        string
	userID    string
	transport Transport
	clientInfo models.ClientInfo
	channels  map[string]bool
}

// Hub routes outbound events to connections. All maps are guarded by one
// mutex; broadcasts snapshot the recipient set under the lock and send after
// releasing it so a slow socket never stalls registration.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	channels    map[string]map[string]*connection
	users       map[string]map[string]*connection
	logger      ectologger.Logger
}

// NewHub creates a new connection hub
func NewHub(logger ectologger.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]*connection),
		users:       make(map[string]map[string]*connection),
		logger:      logger,
	}
}

// Connect registers a connection. Idempotent per connectionID: reconnecting
// with the same id replaces the transport. Returns true when this is the
// user's first live connection.
func (h *Hub) Connect(connectionID, userID string, transport Transport, clientInfo models.ClientInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.connections[connectionID]; ok {
		existing.transport = transport
		existing.clientInfo = clientInfo
		return false
	}

	conn := &connection{
		id:         connectionID,
		userID:     userID,
		transport:  transport,
		clientInfo: clientInfo,
		channels:   make(map[string]bool),
	}
	h.connections[connectionID] = conn

	userConns := h.users[userID]
	if userConns == nil {
		userConns = make(map[string]*connection)
		h.users[userID] = userConns
	}
	first := len(userConns) == 0
	userConns[connectionID] = conn

	metrics.ActiveConnections.Inc()
	h.logger.WithFields(map[string]any{
		"connection_id": connectionID,
		"user_id":       userID,
	}).Info("Connection registered")

	return first
}

// Disconnect removes a connection from every channel and the user index.
// Safe to call twice (close races a read timeout). Returns the user id and
// whether this was the user's last connection.
func (h *Hub) Disconnect(connectionID string) (userID string, wasLast bool, existed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connectionID]
	if !ok {
		return "", false, false
	}

	delete(h.connections, connectionID)
	for channel := range conn.channels {
		if subs := h.channels[channel]; subs != nil {
			delete(subs, connectionID)
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
	}

	if userConns := h.users[conn.userID]; userConns != nil {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(h.users, conn.userID)
			wasLast = true
		}
	}

	metrics.ActiveConnections.Dec()
	h.logger.WithFields(map[string]any{
		"connection_id": connectionID,
		"user_id":       conn.userID,
		"was_last":      wasLast,
	}).Info("Connection removed")

	return conn.userID, wasLast, true
}

// Subscribe adds a connection to a channel. Returns false for unknown
// connections rather than erroring; the caller races against disconnects.
func (h *Hub) Subscribe(connectionID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connectionID]
	if !ok {
		return false
	}

	conn.channels[channel] = true
	subs := h.channels[channel]
	if subs == nil {
		subs = make(map[string]*connection)
		h.channels[channel] = subs
	}
	subs[connectionID] = conn
	return true
}

// Unsubscribe removes a connection from a channel
func (h *Hub) Unsubscribe(connectionID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connectionID]
	if !ok {
		return false
	}

	delete(conn.channels, channel)
	if subs := h.channels[channel]; subs != nil {
		delete(subs, connectionID)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	return true
}

// Broadcast fans an event out to the channel's subscribers. Delivery is
// best-effort FIFO per channel; a transport failure on one connection never
// aborts delivery to the rest.
func (h *Hub) Broadcast(event Event) {
	envelope := Envelope{
		Type:      event.Type,
		Channel:   event.Channel,
		Payload:   event.Payload,
		SenderID:  event.SenderID,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).WithField("event_type", event.Type).Error("Failed to marshal event")
		return
	}

	var targets map[string]bool
	if len(event.TargetUserIDs) > 0 {
		targets = make(map[string]bool, len(event.TargetUserIDs))
		for _, id := range event.TargetUserIDs {
			targets[id] = true
		}
	}

	// Snapshot recipients under the lock, send after releasing it
	h.mu.RLock()
	subs := h.channels[event.Channel]
	recipients := make([]*connection, 0, len(subs))
	for _, conn := range subs {
		if event.ExcludeSender && conn.userID == event.SenderID {
			continue
		}
		if targets != nil && !targets[conn.userID] {
			continue
		}
		recipients = append(recipients, conn)
	}
	h.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(event.Type).Inc()
	for _, conn := range recipients {
		if err := conn.transport.Send(data); err != nil {
			metrics.MessagesDropped.Inc()
			h.logger.WithError(err).WithFields(map[string]any{
				"connection_id": conn.id,
				"event_type":    event.Type,
			}).Warn("Dropped event for slow or dead connection")
		}
	}
}

// SendToUser delivers an event to every live connection of one user,
// independent of channel subscriptions. Used for personal notifications like
// lock denials.
func (h *Hub) SendToUser(userID, eventType string, payload any) {
	envelope := Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).Error("Failed to marshal event")
		return
	}

	h.mu.RLock()
	userConns := h.users[userID]
	recipients := make([]*connection, 0, len(userConns))
	for _, conn := range userConns {
		recipients = append(recipients, conn)
	}
	h.mu.RUnlock()

	for _, conn := range recipients {
		if err := conn.transport.Send(data); err != nil {
			metrics.MessagesDropped.Inc()
			h.logger.WithError(err).WithField("connection_id", conn.id).Warn("Dropped event for slow or dead connection")
		}
	}
}

// SendToConnection delivers an envelope to one specific connection. Used for
// error replies that must reach only the originating socket.
func (h *Hub) SendToConnection(connectionID, eventType string, payload any) bool {
	envelope := Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).Error("Failed to marshal event")
		return false
	}

	h.mu.RLock()
	conn, ok := h.connections[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.transport.Send(data); err != nil {
		metrics.MessagesDropped.Inc()
		return false
	}
	return true
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// UserID resolves a connection to its user
func (h *Hub) UserID(connectionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[connectionID]
	if !ok {
		return "", false
	}
	return conn.userID, true
}

// Close tears down every connection. Called once on shutdown after the final
// session:ended sweep has been broadcast.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connections = make(map[string]*connection)
	h.channels = make(map[string]map[string]*connection)
	h.users = make(map[string]map[string]*connection)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.transport.Close()
		metrics.ActiveConnections.Dec()
	}
}
