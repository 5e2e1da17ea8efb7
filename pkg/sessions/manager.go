// Package sessions manages collaboration session lifecycle: creation, the
// participant roster, and cursor/selection fan-out. A session moves from
// active to ended and never back; inactivity is handled by the sweeper
// calling EndSession.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const defaultMaxParticipants = 50

// Manager coordinates session state between storage and the hub
type Manager struct {
	sessions     repositories.SessionRepository
	participants repositories.ParticipantRepository
	hub          *realtime.Hub
	logger       ectologger.Logger
}

// NewManager creates a session manager
func NewManager(sessions repositories.SessionRepository, participants repositories.ParticipantRepository, hub *realtime.Hub, logger ectologger.Logger) *Manager {
	return &Manager{
		sessions:     sessions,
		participants: participants,
		hub:          hub,
		logger:       logger,
	}
}

// CreateSession creates a session and its owner participant
func (m *Manager) CreateSession(ctx context.Context, entityType, entityID, userID string, opts models.SessionOptions) (*models.CollaborationSession, *models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.CreateSession")
	defer span.End()

	now := time.Now().UTC()
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", entityType, entityID)
	}
	maxParticipants := opts.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = defaultMaxParticipants
	}

	session := &models.CollaborationSession{
		ID:                 uuid.New().String(),
		EntityType:         entityType,
		EntityID:           entityID,
		Name:               name,
		IsActive:           true,
		AllowAnonymous:     opts.AllowAnonymous,
		MaxParticipants:    maxParticipants,
		RequireLockForEdit: opts.RequireLockForEdit,
		OwnerUserID:        userID,
		StartedAt:          now,
		LastActivityAt:     now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	participant, err := m.participants.Upsert(ctx, &models.SessionParticipant{
		ID:         uuid.New().String(),
		SessionID:  session.ID,
		UserID:     userID,
		Status:     models.ParticipantStatusActive,
		Role:       models.ParticipantRoleOwner,
		JoinedAt:   now,
		LastSeenAt: now,
	})
	if err != nil {
		return nil, nil, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":  session.ID,
		"entity_type": entityType,
		"entity_id":   entityID,
	}).Info("Session started")

	m.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(entityType, entityID),
		realtime.EventSessionStarted,
		session,
		userID,
	))

	return session, participant, nil
}

// GetOrCreateSession returns the entity's active session, joining the caller
// to it, or creates a fresh one. The second return reports whether a new
// session was created.
func (m *Manager) GetOrCreateSession(ctx context.Context, entityType, entityID, userID string) (*models.CollaborationSession, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.GetOrCreateSession")
	defer span.End()

	existing, err := m.sessions.GetActiveByEntity(ctx, entityType, entityID)
	if err == nil {
		if _, err := m.JoinSession(ctx, existing.ID, userID, models.ParticipantRoleEditor); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !httperror.IsHTTPError(err) || httperror.GetStatusCode(err) != http.StatusNotFound {
		return nil, false, err
	}

	session, _, err := m.CreateSession(ctx, entityType, entityID, userID, models.SessionOptions{})
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// JoinSession adds the user to the session, or re-activates a prior
// membership. Joining an ended session fails NotFound; the caller should go
// through GetOrCreateSession instead.
func (m *Manager) JoinSession(ctx context.Context, sessionID, userID string, role models.ParticipantRole) (*models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.JoinSession")
	defer span.End()

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s has ended", sessionID))
	}

	if role == "" {
		role = models.ParticipantRoleEditor
	}

	active, err := m.participants.ListBySession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	alreadyIn := false
	for _, p := range active {
		if p.UserID == userID {
			alreadyIn = true
			break
		}
	}
	if !alreadyIn && session.MaxParticipants > 0 && len(active) >= session.MaxParticipants {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("session %s is full", sessionID))
	}

	now := time.Now().UTC()
	participant, err := m.participants.Upsert(ctx, &models.SessionParticipant{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		UserID:     userID,
		Status:     models.ParticipantStatusActive,
		Role:       role,
		JoinedAt:   now,
		LastSeenAt: now,
	})
	if err != nil {
		return nil, err
	}

	if err := m.sessions.TouchActivity(ctx, sessionID, now); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Failed to touch session activity")
	}

	m.hub.Broadcast(realtime.NewEvent(
		realtime.SessionChannel(sessionID),
		realtime.EventSessionParticipantJoined,
		participant,
		userID,
	))

	return participant, nil
}

// LeaveSession soft-closes the membership and announces the departure
func (m *Manager) LeaveSession(ctx context.Context, sessionID, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.LeaveSession")
	defer span.End()

	now := time.Now().UTC()
	if err := m.participants.Leave(ctx, sessionID, userID, now); err != nil {
		return err
	}

	m.hub.Broadcast(realtime.NewEvent(
		realtime.SessionChannel(sessionID),
		realtime.EventSessionParticipantLeft,
		map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"left_at":    now,
		},
		userID,
	))

	return nil
}

// UpdateCursor persists the participant's cursor and fans it out
func (m *Manager) UpdateCursor(ctx context.Context, sessionID, userID string, cursor json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.UpdateCursor")
	defer span.End()

	now := time.Now().UTC()
	if err := m.participants.UpdateCursor(ctx, sessionID, userID, cursor, now); err != nil {
		return err
	}

	m.hub.Broadcast(realtime.NewEvent(
		realtime.SessionChannel(sessionID),
		realtime.EventSessionCursorMoved,
		map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"cursor":     cursor,
		},
		userID,
	))
	return nil
}

// UpdateSelection persists the participant's text selection and fans it out
func (m *Manager) UpdateSelection(ctx context.Context, sessionID, userID string, selection json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.UpdateSelection")
	defer span.End()

	now := time.Now().UTC()
	if err := m.participants.UpdateSelection(ctx, sessionID, userID, selection, now); err != nil {
		return err
	}

	m.hub.Broadcast(realtime.NewEvent(
		realtime.SessionChannel(sessionID),
		realtime.EventSessionSelectionChanged,
		map[string]any{
			"session_id": sessionID,
			"user_id":    userID,
			"selection":  selection,
		},
		userID,
	))
	return nil
}

// GetSession returns a session with its active roster
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.CollaborationSession, []models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.GetSession")
	defer span.End()

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	participants, err := m.participants.ListBySession(ctx, sessionID, true)
	if err != nil {
		return nil, nil, err
	}
	return session, participants, nil
}

// EndSession ends the session and announces it on both the session and
// entity channels
func (m *Manager) EndSession(ctx context.Context, sessionID, endedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.EndSession")
	defer span.End()

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.sessions.End(ctx, sessionID, now); err != nil {
		return err
	}

	payload := map[string]any{
		"session_id": sessionID,
		"ended_at":   now,
		"ended_by":   endedBy,
	}
	ended := realtime.NewEvent(realtime.SessionChannel(sessionID), realtime.EventSessionEnded, payload, endedBy)
	ended.ExcludeSender = false
	m.hub.Broadcast(ended)
	m.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(session.EntityType, session.EntityID),
		realtime.EventSessionEnded,
		payload,
		endedBy,
	))

	return nil
}

// EndIdleSessions ends active sessions whose last activity predates the
// cutoff. Called by the sweeper. Returns the number of sessions ended.
func (m *Manager) EndIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.EndIdleSessions")
	defer span.End()

	idle, err := m.sessions.ListIdleActive(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, session := range idle {
		if err := m.EndSession(ctx, session.ID, ""); err != nil {
			m.logger.WithContext(ctx).WithError(err).WithField("session_id", session.ID).Warn("Failed to end idle session")
			continue
		}
		ended++
	}

	if ended > 0 {
		m.logger.WithContext(ctx).WithField("count", ended).Info("Ended idle sessions")
	}
	return ended, nil
}

// EndAllActive ends every active session. Called once during shutdown so
// clients learn their sessions are gone before the hub closes.
func (m *Manager) EndAllActive(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "sessions.Manager.EndAllActive")
	defer span.End()

	active, err := m.sessions.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, session := range active {
		if err := m.EndSession(ctx, session.ID, ""); err != nil {
			m.logger.WithContext(ctx).WithError(err).WithField("session_id", session.ID).Warn("Failed to end session during shutdown")
		}
	}
	return nil
}
