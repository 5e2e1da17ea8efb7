// Package broadcast is the façade services use to publish typed collaboration
// events: fan-out through the hub, with a best-effort mirror to Kafka for
// downstream consumers. Kafka failures are logged, never surfaced — live
// delivery must not depend on the mirror.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Broadcaster publishes typed events through the hub and mirrors them to Kafka
type Broadcaster struct {
	hub      *realtime.Hub
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewBroadcaster creates an event broadcaster. The producer may be nil when
// the Kafka mirror is disabled.
func NewBroadcaster(hub *realtime.Hub, producer *kafka.Producer, logger ectologger.Logger) *Broadcaster {
	return &Broadcaster{
		hub:      hub,
		producer: producer,
		logger:   logger,
	}
}

// ChangeAppliedPayload is the payload for change:applied and
// change:conflict_resolved events
type ChangeAppliedPayload struct {
	Change        *models.CollaborationChange `json:"change"`
	Conflict      *models.ConflictRecord      `json:"conflict,omitempty"`
	ResolvedValue string                      `json:"resolved_value"`
	Version       int                         `json:"version"`
}

// PublishChangeApplied announces a change on the session channel; the event
// type reflects whether a conflict was resolved along the way.
func (b *Broadcaster) PublishChangeApplied(ctx context.Context, session *models.CollaborationSession, userID string, change *models.CollaborationChange, record *models.ConflictRecord) {
	ctx, span := tracing.StartSpan(ctx, "broadcast.Broadcaster.PublishChangeApplied")
	defer span.End()

	eventType := realtime.EventChangeApplied
	resolvedValue := change.NewValue
	if record != nil {
		eventType = realtime.EventChangeConflictResolved
		resolvedValue = record.ResolvedValue
	}

	payload := ChangeAppliedPayload{
		Change:        change,
		Conflict:      record,
		ResolvedValue: resolvedValue,
		Version:       change.ResultVersion,
	}

	b.hub.Broadcast(realtime.NewEvent(realtime.SessionChannel(session.ID), eventType, payload, userID))
	b.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(session.EntityType, session.EntityID),
		realtime.EventEntityVersionCreated,
		map[string]any{
			"entity_type": session.EntityType,
			"entity_id":   session.EntityID,
			"version":     change.ResultVersion,
			"change_id":   change.ID,
		},
		userID,
	))

	b.mirror(ctx, &kafka.CollabEvent{
		EventType:  "change.applied",
		SessionID:  session.ID,
		EntityType: session.EntityType,
		EntityID:   session.EntityID,
		UserID:     userID,
		Version:    change.ResultVersion,
		Data:       mustJSON(payload),
	})

	if record != nil {
		b.mirror(ctx, &kafka.CollabEvent{
			EventType:  "conflict.detected",
			SessionID:  session.ID,
			EntityType: session.EntityType,
			EntityID:   session.EntityID,
			UserID:     userID,
			Version:    change.ResultVersion,
			Data:       mustJSON(record),
		})
	}
}

// PublishChangeRejected notifies only the author that their change was not
// accepted
func (b *Broadcaster) PublishChangeRejected(ctx context.Context, userID string, reason string) {
	_, span := tracing.StartSpan(ctx, "broadcast.Broadcaster.PublishChangeRejected")
	defer span.End()

	b.hub.SendToUser(userID, realtime.EventChangeRejected, map[string]any{"reason": reason})
}

// PublishCommentEvent announces a comment lifecycle event on the entity channel
func (b *Broadcaster) PublishCommentEvent(ctx context.Context, eventType string, comment *models.Comment, userID string) {
	ctx, span := tracing.StartSpan(ctx, "broadcast.Broadcaster.PublishCommentEvent")
	defer span.End()

	b.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(comment.EntityType, comment.EntityID),
		eventType,
		comment,
		userID,
	))

	b.mirror(ctx, &kafka.CollabEvent{
		EventType:  eventType,
		EntityType: comment.EntityType,
		EntityID:   comment.EntityID,
		UserID:     userID,
		Data:       mustJSON(comment),
	})
}

// PublishSessionEvent mirrors a session lifecycle event to Kafka. The hub
// fan-out happens in the session manager; this only feeds the audit stream.
func (b *Broadcaster) PublishSessionEvent(ctx context.Context, eventType string, session *models.CollaborationSession, userID string) {
	ctx, span := tracing.StartSpan(ctx, "broadcast.Broadcaster.PublishSessionEvent")
	defer span.End()

	b.mirror(ctx, &kafka.CollabEvent{
		EventType:  eventType,
		SessionID:  session.ID,
		EntityType: session.EntityType,
		EntityID:   session.EntityID,
		UserID:     userID,
		Data:       mustJSON(session),
	})
}

// PublishLockEvent mirrors a lock lifecycle event to Kafka
func (b *Broadcaster) PublishLockEvent(ctx context.Context, eventType string, lock *models.EntityLock) {
	ctx, span := tracing.StartSpan(ctx, "broadcast.Broadcaster.PublishLockEvent")
	defer span.End()

	var sessionID string
	if lock.SessionID != nil {
		sessionID = *lock.SessionID
	}
	b.mirror(ctx, &kafka.CollabEvent{
		EventType:  eventType,
		SessionID:  sessionID,
		EntityType: lock.EntityType,
		EntityID:   lock.EntityID,
		UserID:     lock.UserID,
		Data:       mustJSON(lock),
	})
}

func (b *Broadcaster) mirror(ctx context.Context, event *kafka.CollabEvent) {
	if b.producer == nil {
		return
	}
	if err := b.producer.PublishCollabEvent(ctx, event); err != nil {
		b.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Warn("Failed to mirror event to Kafka")
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
