// Package presence is the single source of truth for who is online, where,
// and what they are doing. State is in-memory only: presence is best-effort
// telemetry rebuilt from live connections, never authoritative for access
// control.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Tracker maintains one Presence entry per user (not per connection)
type Tracker struct {
	mu     sync.RWMutex
	users  map[string]*models.Presence
	hub    *realtime.Hub
	logger ectologger.Logger
}

// NewTracker creates a presence tracker
func NewTracker(hub *realtime.Hub, logger ectologger.Logger) *Tracker {
	return &Tracker{
		users:  make(map[string]*models.Presence),
		hub:    hub,
		logger: logger,
	}
}

// SetOnline upserts the user's presence and announces the join. The join is
// echoed to the acting user too, as local confirmation.
func (t *Tracker) SetOnline(ctx context.Context, userID, connectionID string, clientInfo models.ClientInfo) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.SetOnline")
	defer span.End()

	now := time.Now().UTC()

	t.mu.Lock()
	p := t.users[userID]
	if p == nil {
		p = &models.Presence{UserID: userID}
		t.users[userID] = p
	}
	p.Status = models.PresenceStatusOnline
	p.ConnectionID = connectionID
	p.ClientInfo = clientInfo
	p.LastHeartbeat = now
	snapshot := *p
	t.mu.Unlock()

	t.updateOnlineGauge()
	t.logger.WithContext(ctx).WithFields(map[string]any{
		"user_id":       userID,
		"connection_id": connectionID,
	}).Info("User online")

	event := realtime.NewEvent(realtime.ChannelPresenceGlobal, realtime.EventPresenceJoined, snapshot, userID)
	event.ExcludeSender = false
	t.hub.Broadcast(event)
}

// SetOffline marks the user offline and announces the departure
func (t *Tracker) SetOffline(ctx context.Context, userID string) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.SetOffline")
	defer span.End()

	t.mu.Lock()
	p := t.users[userID]
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.Status = models.PresenceStatusOffline
	p.IsTyping = false
	p.TypingField = ""
	p.ConnectionID = ""
	snapshot := *p
	t.mu.Unlock()

	t.updateOnlineGauge()
	t.logger.WithContext(ctx).WithField("user_id", userID).Info("User offline")

	t.hub.Broadcast(realtime.NewEvent(realtime.ChannelPresenceGlobal, realtime.EventPresenceLeft, snapshot, userID))
}

// UpdateStatus changes the user's availability and status message
func (t *Tracker) UpdateStatus(ctx context.Context, userID string, status models.PresenceStatus, statusMessage string) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.UpdateStatus")
	defer span.End()

	t.mu.Lock()
	p := t.users[userID]
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.Status = status
	p.StatusMessage = statusMessage
	p.LastHeartbeat = time.Now().UTC()
	snapshot := *p
	t.mu.Unlock()

	t.updateOnlineGauge()
	t.hub.Broadcast(realtime.NewEvent(t.channelFor(&snapshot), realtime.EventPresenceUpdate, snapshot, userID))
}

// UpdateLocation records where the user currently is
func (t *Tracker) UpdateLocation(ctx context.Context, userID, page, entityType, entityID string) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.UpdateLocation")
	defer span.End()

	t.mu.Lock()
	p := t.users[userID]
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.CurrentPage = page
	p.CurrentEntityType = entityType
	p.CurrentEntityID = entityID
	p.LastHeartbeat = time.Now().UTC()
	snapshot := *p
	t.mu.Unlock()

	t.hub.Broadcast(realtime.NewEvent(t.channelFor(&snapshot), realtime.EventPresenceUpdate, snapshot, userID))
}

// StartTyping marks the user as typing in a field. The event always carries
// the field name so the UI can show where.
func (t *Tracker) StartTyping(ctx context.Context, userID, field string) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.StartTyping")
	defer span.End()

	t.setTyping(ctx, userID, true, field, realtime.EventPresenceTypingStart)
}

// StopTyping clears the user's typing state
func (t *Tracker) StopTyping(ctx context.Context, userID, field string) {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.StopTyping")
	defer span.End()

	t.setTyping(ctx, userID, false, field, realtime.EventPresenceTypingStop)
}

func (t *Tracker) setTyping(_ context.Context, userID string, typing bool, field, eventType string) {
	t.mu.Lock()
	p := t.users[userID]
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.IsTyping = typing
	if typing {
		p.TypingField = field
	} else {
		p.TypingField = ""
	}
	p.LastHeartbeat = time.Now().UTC()
	snapshot := *p
	t.mu.Unlock()

	payload := map[string]any{
		"user_id": userID,
		"field":   field,
	}
	t.hub.Broadcast(realtime.NewEvent(t.channelFor(&snapshot), eventType, payload, userID))
}

// Heartbeat refreshes the user's liveness timestamp
func (t *Tracker) Heartbeat(userID string) {
	t.mu.Lock()
	if p := t.users[userID]; p != nil {
		p.LastHeartbeat = time.Now().UTC()
	}
	t.mu.Unlock()
}

// GetOnlineUsers returns a snapshot of non-offline users, optionally filtered
// to one entity
func (t *Tracker) GetOnlineUsers(entityType, entityID string) []models.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]models.Presence, 0, len(t.users))
	for _, p := range t.users {
		if p.Status == models.PresenceStatusOffline {
			continue
		}
		if entityType != "" && (p.CurrentEntityType != entityType || p.CurrentEntityID != entityID) {
			continue
		}
		users = append(users, *p)
	}
	return users
}

// Get returns one user's presence
func (t *Tracker) Get(userID string) (models.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.users[userID]
	if !ok {
		return models.Presence{}, false
	}
	return *p, true
}

// SweepStale marks users offline whose last heartbeat predates the cutoff.
// Returns the number of users swept.
func (t *Tracker) SweepStale(ctx context.Context, cutoff time.Time) int {
	ctx, span := tracing.StartSpan(ctx, "presence.Tracker.SweepStale")
	defer span.End()

	t.mu.Lock()
	var stale []models.Presence
	for _, p := range t.users {
		if p.Status != models.PresenceStatusOffline && p.LastHeartbeat.Before(cutoff) {
			p.Status = models.PresenceStatusOffline
			p.IsTyping = false
			p.TypingField = ""
			stale = append(stale, *p)
		}
	}
	t.mu.Unlock()

	for _, p := range stale {
		t.hub.Broadcast(realtime.NewEvent(realtime.ChannelPresenceGlobal, realtime.EventPresenceLeft, p, p.UserID))
	}
	if len(stale) > 0 {
		t.updateOnlineGauge()
		t.logger.WithContext(ctx).WithField("count", len(stale)).Info("Swept stale presence entries")
	}
	return len(stale)
}

// channelFor scopes presence events to the entity the user is on, falling
// back to the global channel
func (t *Tracker) channelFor(p *models.Presence) string {
	if p.CurrentEntityType != "" && p.CurrentEntityID != "" {
		return realtime.EntityChannel(p.CurrentEntityType, p.CurrentEntityID)
	}
	return realtime.ChannelPresenceGlobal
}

func (t *Tracker) updateOnlineGauge() {
	t.mu.RLock()
	online := 0
	for _, p := range t.users {
		if p.Status != models.PresenceStatusOffline {
			online++
		}
	}
	t.mu.RUnlock()
	metrics.OnlineUsers.Set(float64(online))
}
