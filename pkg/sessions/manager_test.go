package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.CollaborationSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*models.CollaborationSession)}
}

func (r *memSessionRepo) Create(_ context.Context, s *models.CollaborationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *s
	r.sessions[s.ID] = &clone
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id string) (*models.CollaborationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s not found", id))
	}
	clone := *s
	return &clone, nil
}

func (r *memSessionRepo) GetActiveByEntity(_ context.Context, entityType, entityID string) (*models.CollaborationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IsActive && s.EntityType == entityType && s.EntityID == entityID {
			clone := *s
			return &clone, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "no active session")
}

func (r *memSessionRepo) List(_ context.Context, entityType *string, _, _ int) ([]models.CollaborationSession, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CollaborationSession
	for _, s := range r.sessions {
		if entityType != nil && s.EntityType != *entityType {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (r *memSessionRepo) TouchActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *memSessionRepo) End(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsActive {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("active session %s not found", id))
	}
	s.IsActive = false
	s.EndedAt = &at
	return nil
}

func (r *memSessionRepo) ListActive(_ context.Context) ([]models.CollaborationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CollaborationSession
	for _, s := range r.sessions {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) ListIdleActive(_ context.Context, idleSince time.Time) ([]models.CollaborationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CollaborationSession
	for _, s := range r.sessions {
		if s.IsActive && s.LastActivityAt.Before(idleSince) {
			out = append(out, *s)
		}
	}
	return out, nil
}

type memParticipantRepo struct {
	mu           sync.Mutex
	participants map[string]*models.SessionParticipant // keyed session|user
}

func newMemParticipantRepo() *memParticipantRepo {
	return &memParticipantRepo{participants: make(map[string]*models.SessionParticipant)}
}

func pkey(sessionID, userID string) string { return sessionID + "|" + userID }

func (r *memParticipantRepo) Upsert(_ context.Context, p *models.SessionParticipant) (*models.SessionParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pkey(p.SessionID, p.UserID)
	if existing, ok := r.participants[key]; ok {
		existing.Status = p.Status
		existing.LastSeenAt = p.LastSeenAt
		existing.LeftAt = nil
		clone := *existing
		return &clone, nil
	}
	clone := *p
	r.participants[key] = &clone
	result := clone
	return &result, nil
}

func (r *memParticipantRepo) Get(_ context.Context, sessionID, userID string) (*models.SessionParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(sessionID, userID)]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "participant not found")
	}
	clone := *p
	return &clone, nil
}

func (r *memParticipantRepo) GetByID(_ context.Context, id string) (*models.SessionParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.ID == id {
			clone := *p
			return &clone, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "participant not found")
}

func (r *memParticipantRepo) ListBySession(_ context.Context, sessionID string, activeOnly bool) ([]models.SessionParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionParticipant
	for _, p := range r.participants {
		if p.SessionID != sessionID {
			continue
		}
		if activeOnly && p.LeftAt != nil {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memParticipantRepo) Leave(_ context.Context, sessionID, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(sessionID, userID)]
	if !ok || p.LeftAt != nil {
		return httperror.NewHTTPError(http.StatusNotFound, "participant not found")
	}
	p.Status = models.ParticipantStatusDisconnected
	p.LeftAt = &at
	return nil
}

func (r *memParticipantRepo) UpdateCursor(_ context.Context, sessionID, userID string, cursor []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(sessionID, userID)]
	if !ok {
		return httperror.NewHTTPError(http.StatusNotFound, "participant not found")
	}
	p.CursorPosition = cursor
	p.LastSeenAt = at
	return nil
}

func (r *memParticipantRepo) UpdateSelection(_ context.Context, sessionID, userID string, selection []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(sessionID, userID)]
	if !ok {
		return httperror.NewHTTPError(http.StatusNotFound, "participant not found")
	}
	p.TextSelection = selection
	p.LastSeenAt = at
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) eventTypes(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, raw := range f.messages {
		var env realtime.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env.Type)
	}
	return out
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestManager() (*Manager, *memSessionRepo, *memParticipantRepo, *realtime.Hub) {
	sessionRepo := newMemSessionRepo()
	participantRepo := newMemParticipantRepo()
	hub := realtime.NewHub(testLogger())
	return NewManager(sessionRepo, participantRepo, hub, testLogger()), sessionRepo, participantRepo, hub
}

func TestCreateSession_Defaults(t *testing.T) {
	m, _, _, _ := newTestManager()

	session, participant, err := m.CreateSession(context.Background(), "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)

	assert.Equal(t, "order o1", session.Name)
	assert.True(t, session.IsActive)
	assert.Equal(t, defaultMaxParticipants, session.MaxParticipants)
	assert.Equal(t, "alice", session.OwnerUserID)
	assert.Equal(t, models.ParticipantRoleOwner, participant.Role)
	assert.Equal(t, models.ParticipantStatusActive, participant.Status)
}

func TestGetOrCreateSession_ReusesActiveSession(t *testing.T) {
	m, _, participants, _ := newTestManager()
	ctx := context.Background()

	first, created, err := m.GetOrCreateSession(ctx, "order", "o1", "alice")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := m.GetOrCreateSession(ctx, "order", "o1", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	roster, err := participants.ListBySession(ctx, first.ID, true)
	require.NoError(t, err)
	assert.Len(t, roster, 2)
}

func TestGetOrCreateSession_NewSessionAfterEnd(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()

	first, _, err := m.GetOrCreateSession(ctx, "order", "o1", "alice")
	require.NoError(t, err)
	require.NoError(t, m.EndSession(ctx, first.ID, "alice"))

	second, created, err := m.GetOrCreateSession(ctx, "order", "o1", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestJoinSession_EndedSessionIsNotFound(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)
	require.NoError(t, m.EndSession(ctx, session.ID, "alice"))

	_, err = m.JoinSession(ctx, session.ID, "bob", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestJoinSession_FullSession(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{MaxParticipants: 2})
	require.NoError(t, err)

	_, err = m.JoinSession(ctx, session.ID, "bob", "")
	require.NoError(t, err)

	_, err = m.JoinSession(ctx, session.ID, "carol", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	// Re-joining never trips the cap
	_, err = m.JoinSession(ctx, session.ID, "bob", "")
	assert.NoError(t, err)
}

func TestJoinSession_DefaultsToEditorRole(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)

	participant, err := m.JoinSession(ctx, session.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantRoleEditor, participant.Role)

	viewer, err := m.JoinSession(ctx, session.ID, "carol", models.ParticipantRoleViewer)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantRoleViewer, viewer.Role)
}

func TestLeaveSession_AnnouncesDeparture(t *testing.T) {
	m, _, participants, hub := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)
	_, err = m.JoinSession(ctx, session.ID, "bob", "")
	require.NoError(t, err)

	observer := &fakeTransport{}
	hub.Connect("c1", "alice", observer, models.ClientInfo{})
	hub.Subscribe("c1", realtime.SessionChannel(session.ID))

	require.NoError(t, m.LeaveSession(ctx, session.ID, "bob"))

	assert.Contains(t, observer.eventTypes(t), realtime.EventSessionParticipantLeft)
	roster, err := participants.ListBySession(ctx, session.ID, true)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestEndSession_BroadcastReachesEveryone(t *testing.T) {
	m, sessionRepo, _, hub := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)

	// The ender's own connection must hear session:ended too
	ender := &fakeTransport{}
	hub.Connect("c1", "alice", ender, models.ClientInfo{})
	hub.Subscribe("c1", realtime.SessionChannel(session.ID))

	require.NoError(t, m.EndSession(ctx, session.ID, "alice"))

	assert.Contains(t, ender.eventTypes(t), realtime.EventSessionEnded)

	stored, err := sessionRepo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.EndedAt)
}

func TestEndIdleSessions(t *testing.T) {
	m, sessionRepo, _, _ := newTestManager()
	ctx := context.Background()

	idle, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)
	busy, _, err := m.CreateSession(ctx, "order", "o2", "bob", models.SessionOptions{})
	require.NoError(t, err)

	// Backdate the idle session's activity past the cutoff
	require.NoError(t, sessionRepo.TouchActivity(ctx, idle.ID, time.Now().UTC().Add(-time.Hour)))

	ended, err := m.EndIdleSessions(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, ended)

	stored, err := sessionRepo.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	stillActive, err := sessionRepo.Get(ctx, busy.ID)
	require.NoError(t, err)
	assert.True(t, stillActive.IsActive)
}

func TestUpdateCursor_PersistsAndBroadcasts(t *testing.T) {
	m, _, participants, hub := newTestManager()
	ctx := context.Background()

	session, _, err := m.CreateSession(ctx, "order", "o1", "alice", models.SessionOptions{})
	require.NoError(t, err)

	observer := &fakeTransport{}
	hub.Connect("c1", "bob", observer, models.ClientInfo{})
	hub.Subscribe("c1", realtime.SessionChannel(session.ID))

	cursor := json.RawMessage(`{"line":3,"col":7}`)
	require.NoError(t, m.UpdateCursor(ctx, session.ID, "alice", cursor))

	assert.Contains(t, observer.eventTypes(t), realtime.EventSessionCursorMoved)
	p, err := participants.Get(ctx, session.ID, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, string(cursor), string(p.CursorPosition))
}

func TestEndAllActive(t *testing.T) {
	m, sessionRepo, _, _ := newTestManager()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := m.CreateSession(ctx, "order", fmt.Sprintf("o%d", i), "alice", models.SessionOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, m.EndAllActive(ctx))

	active, err := sessionRepo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
