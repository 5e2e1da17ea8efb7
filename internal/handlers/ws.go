package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/broadcast"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/coordinator"
	"github.com/Ramsey-B/fern/pkg/locks"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/presence"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/sessions"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// WSHandler owns the WebSocket endpoint: it upgrades connections, registers
// them with the hub, and routes inbound messages to the collaboration
// services through the dispatcher.
type WSHandler struct {
	upgrader    websocket.Upgrader
	hub         *realtime.Hub
	dispatcher  *realtime.Dispatcher
	tracker     *presence.Tracker
	sessions    *sessions.Manager
	sessionRepo repositories.SessionRepository
	coordinator *coordinator.Coordinator
	registry    *locks.Registry
	comments    CommentCreator
	broadcaster *broadcast.Broadcaster
	clientCfg   realtime.ClientConfig
	logger      ectologger.Logger
}

// CommentCreator is the slice of the comment service the socket needs
type CommentCreator interface {
	Create(ctx context.Context, userID string, req models.CreateCommentRequest) (*models.Comment, error)
}

// NewWSHandler creates the WebSocket handler and registers every inbound
// message type on the dispatcher
func NewWSHandler(
	hub *realtime.Hub,
	dispatcher *realtime.Dispatcher,
	tracker *presence.Tracker,
	sessionManager *sessions.Manager,
	sessionRepo repositories.SessionRepository,
	coord *coordinator.Coordinator,
	registry *locks.Registry,
	commentSvc CommentCreator,
	broadcaster *broadcast.Broadcaster,
	clientCfg realtime.ClientConfig,
	logger ectologger.Logger,
) *WSHandler {
	h := &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The auth proxy already enforces origin; the engine trusts it
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub:         hub,
		dispatcher:  dispatcher,
		tracker:     tracker,
		sessions:    sessionManager,
		sessionRepo: sessionRepo,
		coordinator: coord,
		registry:    registry,
		comments:    commentSvc,
		broadcaster: broadcaster,
		clientCfg:   clientCfg,
		logger:      logger,
	}
	h.registerMessageHandlers()
	return h
}

// Register registers the WebSocket route
func (h *WSHandler) Register(g *echo.Group) {
	g.GET("/ws", h.HandleConnection)
}

// HandleConnection upgrades the request and runs the read pump until the
// connection dies. The write pump runs on its own goroutine.
func (h *WSHandler) HandleConnection(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "WSHandler.HandleConnection")
	defer span.End()

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.WithContext(ctx).WithError(err).Warn("WebSocket upgrade failed")
		return nil
	}

	connectionID := uuid.New().String()
	ctx = appctx.SetConnectionID(ctx, connectionID)
	clientInfo := models.ClientInfo{
		UserAgent:  c.Request().UserAgent(),
		Platform:   c.QueryParam("platform"),
		AppVersion: c.QueryParam("app_version"),
	}

	client := realtime.NewClient(conn, connectionID, userID, h.clientCfg, h.logger, h.onMessage, h.onClose)
	h.hub.Connect(connectionID, userID, client, clientInfo)
	h.hub.Subscribe(connectionID, realtime.ChannelPresenceGlobal)
	h.tracker.SetOnline(ctx, userID, connectionID, clientInfo)

	go client.WritePump()
	// The read pump owns this goroutine for the connection's lifetime. The
	// pump's context must outlive the HTTP request, which echo cancels once
	// the handler returns on other paths.
	client.ReadPump(context.WithoutCancel(ctx))
	return nil
}

func (h *WSHandler) onMessage(ctx context.Context, client *realtime.Client, message []byte) {
	h.dispatcher.Dispatch(ctx, client, message)
}

// onClose tears down connection state. When the user's last connection drops,
// their presence goes offline and their auto-release locks are freed.
func (h *WSHandler) onClose(client *realtime.Client) {
	ctx := context.Background()

	userID, wasLast, existed := h.hub.Disconnect(client.ConnectionID)
	if !existed {
		return
	}
	if !wasLast {
		return
	}

	h.tracker.SetOffline(ctx, userID)
	released, err := h.registry.ReleaseOnDisconnect(ctx, userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to release locks on disconnect")
		return
	}
	if released > 0 {
		h.logger.WithFields(map[string]any{
			"user_id": userID,
			"count":   released,
		}).Info("Released locks on disconnect")
	}
}

type channelMessage struct {
	Channel string `json:"channel" validate:"required"`
}

type presenceUpdateMessage struct {
	Status        models.PresenceStatus `json:"status,omitempty" validate:"omitempty,oneof=online busy away dnd offline"`
	StatusMessage string                `json:"status_message,omitempty"`
	CurrentPage   string                `json:"current_page,omitempty"`
	EntityType    string                `json:"entity_type,omitempty"`
	EntityID      string                `json:"entity_id,omitempty"`
}

type typingMessage struct {
	Field string `json:"field"`
}

type cursorMessage struct {
	SessionID string          `json:"session_id" validate:"required"`
	Cursor    json.RawMessage `json:"cursor"`
}

type selectionMessage struct {
	SessionID string          `json:"session_id" validate:"required"`
	Selection json.RawMessage `json:"selection"`
}

type sessionJoinMessage struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

type sessionLeaveMessage struct {
	SessionID string `json:"session_id" validate:"required"`
}

type lockReleaseMessage struct {
	LockID string `json:"lock_id" validate:"required"`
}

func (h *WSHandler) registerMessageHandlers() {
	h.dispatcher.Register(realtime.MessageSubscribe, h.handleSubscribe)
	h.dispatcher.Register(realtime.MessageUnsubscribe, h.handleUnsubscribe)
	h.dispatcher.Register(realtime.MessagePresenceUpdate, h.handlePresenceUpdate)
	h.dispatcher.Register(realtime.MessagePresenceHeartbeat, h.handleHeartbeat)
	h.dispatcher.Register(realtime.MessageTypingStart, h.handleTypingStart)
	h.dispatcher.Register(realtime.MessageTypingStop, h.handleTypingStop)
	h.dispatcher.Register(realtime.MessageCursorMove, h.handleCursorMove)
	h.dispatcher.Register(realtime.MessageSelectionChange, h.handleSelectionChange)
	h.dispatcher.Register(realtime.MessageSessionJoin, h.handleSessionJoin)
	h.dispatcher.Register(realtime.MessageSessionLeave, h.handleSessionLeave)
	h.dispatcher.Register(realtime.MessageChangeApply, h.handleChangeApply)
	h.dispatcher.Register(realtime.MessageLockAcquire, h.handleLockAcquire)
	h.dispatcher.Register(realtime.MessageLockRelease, h.handleLockRelease)
	h.dispatcher.Register(realtime.MessageCommentAdd, h.handleCommentAdd)
}

func (h *WSHandler) handleSubscribe(_ context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[channelMessage](message)
	if err != nil {
		return err
	}
	h.hub.Subscribe(client.ConnectionID, msg.Channel)
	return nil
}

func (h *WSHandler) handleUnsubscribe(_ context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[channelMessage](message)
	if err != nil {
		return err
	}
	h.hub.Unsubscribe(client.ConnectionID, msg.Channel)
	return nil
}

func (h *WSHandler) handlePresenceUpdate(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[presenceUpdateMessage](message)
	if err != nil {
		return err
	}

	if msg.Status != "" {
		h.tracker.UpdateStatus(ctx, client.UserID, msg.Status, msg.StatusMessage)
	}
	if msg.CurrentPage != "" || msg.EntityType != "" {
		h.tracker.UpdateLocation(ctx, client.UserID, msg.CurrentPage, msg.EntityType, msg.EntityID)
	}
	return nil
}

func (h *WSHandler) handleHeartbeat(_ context.Context, client *realtime.Client, _ json.RawMessage) error {
	h.tracker.Heartbeat(client.UserID)
	return nil
}

func (h *WSHandler) handleTypingStart(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[typingMessage](message)
	if err != nil {
		return err
	}
	h.tracker.StartTyping(ctx, client.UserID, msg.Field)
	return nil
}

func (h *WSHandler) handleTypingStop(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[typingMessage](message)
	if err != nil {
		return err
	}
	h.tracker.StopTyping(ctx, client.UserID, msg.Field)
	return nil
}

func (h *WSHandler) handleCursorMove(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[cursorMessage](message)
	if err != nil {
		return err
	}
	return h.sessions.UpdateCursor(ctx, msg.SessionID, client.UserID, msg.Cursor)
}

func (h *WSHandler) handleSelectionChange(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[selectionMessage](message)
	if err != nil {
		return err
	}
	return h.sessions.UpdateSelection(ctx, msg.SessionID, client.UserID, msg.Selection)
}

// handleSessionJoin resolves or creates the entity's session, subscribes the
// connection to the session and entity channels, and replies with the full
// session state. Other participants hear about it through the manager's
// broadcasts.
func (h *WSHandler) handleSessionJoin(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[sessionJoinMessage](message)
	if err != nil {
		return err
	}

	session, created, err := h.sessions.GetOrCreateSession(ctx, msg.EntityType, msg.EntityID, client.UserID)
	if err != nil {
		return err
	}

	h.hub.Subscribe(client.ConnectionID, realtime.SessionChannel(session.ID))
	h.hub.Subscribe(client.ConnectionID, realtime.EntityChannel(msg.EntityType, msg.EntityID))
	h.tracker.UpdateLocation(ctx, client.UserID, "", msg.EntityType, msg.EntityID)

	_, participants, err := h.sessions.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	h.hub.SendToConnection(client.ConnectionID, realtime.EventSessionStarted, models.SessionResponse{
		Session:      session,
		Participants: participants,
		WasCreated:   created,
	})
	return nil
}

func (h *WSHandler) handleSessionLeave(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[sessionLeaveMessage](message)
	if err != nil {
		return err
	}

	if err := h.sessions.LeaveSession(ctx, msg.SessionID, client.UserID); err != nil {
		return err
	}
	h.hub.Unsubscribe(client.ConnectionID, realtime.SessionChannel(msg.SessionID))
	return nil
}

// handleChangeApply runs the edit through the coordinator and fans the outcome
// out. The sender gets a direct reply because channel broadcasts exclude them.
func (h *WSHandler) handleChangeApply(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	req, err := utils.BindMessage[models.ApplyChangeRequest](message)
	if err != nil {
		return err
	}

	change, record, err := h.coordinator.ApplyChange(ctx, client.UserID, req)
	if err != nil {
		return err
	}

	session, err := h.sessionRepo.Get(ctx, req.SessionID)
	if err != nil {
		return err
	}

	h.broadcaster.PublishChangeApplied(ctx, session, client.UserID, change, record)
	if record != nil && change.ConflictResolution != nil && *change.ConflictResolution == models.ConflictResolutionRejected {
		h.broadcaster.PublishChangeRejected(ctx, client.UserID, "superseded by a concurrent change")
	}

	h.hub.SendToConnection(client.ConnectionID, realtime.EventChangeApplied, models.ApplyChangeResponse{
		Change:   change,
		Conflict: record,
	})
	return nil
}

// handleLockAcquire replies with the grant directly; denials already reach the
// user through the registry's notification.
func (h *WSHandler) handleLockAcquire(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	req, err := utils.BindMessage[models.AcquireLockRequest](message)
	if err != nil {
		return err
	}

	lock, denial, err := h.registry.AcquireLock(ctx, client.UserID, req)
	if err != nil {
		return err
	}
	if denial != nil {
		return nil
	}

	h.broadcaster.PublishLockEvent(ctx, "lock.acquired", lock)
	h.hub.SendToConnection(client.ConnectionID, realtime.EventLockAcquired, lock)
	return nil
}

func (h *WSHandler) handleLockRelease(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	msg, err := utils.BindMessage[lockReleaseMessage](message)
	if err != nil {
		return err
	}
	return h.registry.ReleaseLock(ctx, msg.LockID, client.UserID)
}

func (h *WSHandler) handleCommentAdd(ctx context.Context, client *realtime.Client, message json.RawMessage) error {
	req, err := utils.BindMessage[models.CreateCommentRequest](message)
	if err != nil {
		return err
	}

	comment, err := h.comments.Create(ctx, client.UserID, req)
	if err != nil {
		return err
	}

	h.hub.SendToConnection(client.ConnectionID, realtime.EventCommentAdded, comment)
	return nil
}
