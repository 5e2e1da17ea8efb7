package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel names. Connections subscribe to channels; events are fanned out to
// every subscriber of the event's channel.
const (
	// ChannelPresenceGlobal carries presence joins/leaves for all users
	ChannelPresenceGlobal = "presence:global"
)

// SessionChannel is the channel for one collaboration session
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// EntityChannel is the channel for one entity across sessions
func EntityChannel(entityType, entityID string) string {
	return fmt.Sprintf("entity:%s:%s", entityType, entityID)
}

// Outbound event types
const (
	EventPresenceUpdate      = "presence:update"
	EventPresenceJoined      = "presence:joined"
	EventPresenceLeft        = "presence:left"
	EventPresenceTypingStart = "presence:typing_start"
	EventPresenceTypingStop  = "presence:typing_stop"

	EventSessionStarted           = "session:started"
	EventSessionEnded             = "session:ended"
	EventSessionParticipantJoined = "session:participant_joined"
	EventSessionParticipantLeft   = "session:participant_left"
	EventSessionCursorMoved       = "session:cursor_moved"
	EventSessionSelectionChanged  = "session:selection_changed"

	EventChangeApplied          = "change:applied"
	EventChangeRejected         = "change:rejected"
	EventChangeConflict         = "change:conflict"
	EventChangeConflictResolved = "change:conflict_resolved"

	EventLockAcquired = "lock:acquired"
	EventLockReleased = "lock:released"
	EventLockDenied   = "lock:denied"

	EventCommentAdded    = "comment:added"
	EventCommentUpdated  = "comment:updated"
	EventCommentResolved = "comment:resolved"

	EventEntityUpdated        = "entity:updated"
	EventEntityDeleted        = "entity:deleted"
	EventEntityVersionCreated = "entity:version_created"

	EventError = "error"
)

// Inbound message types
const (
	MessageSubscribe         = "subscribe"
	MessageUnsubscribe       = "unsubscribe"
	MessagePresenceUpdate    = "presence:update"
	MessagePresenceHeartbeat = "presence:heartbeat"
	MessageTypingStart       = "typing:start"
	MessageTypingStop        = "typing:stop"
	MessageCursorMove        = "cursor:move"
	MessageSelectionChange   = "selection:change"
	MessageSessionJoin       = "session:join"
	MessageSessionLeave      = "session:leave"
	MessageChangeApply       = "change:apply"
	MessageLockAcquire       = "lock:acquire"
	MessageLockRelease       = "lock:release"
	MessageCommentAdd        = "comment:add"
)

// Envelope is the outbound wire format for every message sent to a client
type Envelope struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Payload   any       `json:"payload"`
	SenderID  string    `json:"sender_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundMessage is the envelope clients send. Fields beyond Type are decoded
// per message type by the registered handler.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// Event is a fan-out request routed through the hub
type Event struct {
	Channel       string
	Type          string
	Payload       any
	SenderID      string
	TargetUserIDs []string
	ExcludeSender bool
}

// NewEvent builds a channel event with the default sender-exclusion policy:
// the sender already applied the action locally and does not need the echo.
func NewEvent(channel, eventType string, payload any, senderID string) Event {
	return Event{
		Channel:       channel,
		Type:          eventType,
		Payload:       payload,
		SenderID:      senderID,
		ExcludeSender: true,
	}
}

// ErrorPayload is the payload of an error envelope sent back to one connection
type ErrorPayload struct {
	Error string `json:"error"`
}
