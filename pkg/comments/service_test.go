package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/broadcast"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
)

type memCommentRepo struct {
	mu       sync.Mutex
	comments map[string]*models.Comment
}

func newMemCommentRepo() *memCommentRepo {
	return &memCommentRepo{comments: make(map[string]*models.Comment)}
}

func (r *memCommentRepo) Create(_ context.Context, comment *models.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *comment
	r.comments[comment.ID] = &stored
	return nil
}

func (r *memCommentRepo) Get(_ context.Context, id string) (*models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	comment, ok := r.comments[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("comment %s not found", id))
	}
	copied := *comment
	return &copied, nil
}

func (r *memCommentRepo) ListByEntity(_ context.Context, entityType, entityID string, fieldPath *string, _, _ int) ([]models.Comment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Comment
	for _, c := range r.comments {
		if c.EntityType != entityType || c.EntityID != entityID {
			continue
		}
		if fieldPath != nil && c.FieldPath != *fieldPath {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (r *memCommentRepo) ListThread(_ context.Context, threadRootID string) ([]models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Comment
	for _, c := range r.comments {
		if c.ID == threadRootID || (c.ThreadRootID != nil && *c.ThreadRootID == threadRootID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memCommentRepo) Update(_ context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	comment, ok := r.comments[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("comment %s not found", id))
	}
	if req.Body != nil {
		comment.Body = *req.Body
	}
	comment.UpdatedAt = time.Now().UTC()
	copied := *comment
	return &copied, nil
}

func (r *memCommentRepo) SetStatus(_ context.Context, id string, status models.CommentStatus, userID string, at time.Time) (*models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	comment, ok := r.comments[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("comment %s not found", id))
	}
	comment.Status = status
	if status == models.CommentStatusResolved {
		comment.ResolvedAt = &at
		comment.ResolvedBy = &userID
	} else {
		comment.ResolvedAt = nil
		comment.ResolvedBy = nil
	}
	copied := *comment
	return &copied, nil
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

// newTestService wires a service over an in-memory repo with an observer
// subscribed to the order/o1 entity channel.
func newTestService(t *testing.T) (*Service, *memCommentRepo, *fakeTransport) {
	t.Helper()
	hub := realtime.NewHub(testLogger())
	observer := &fakeTransport{}
	hub.Connect("obs", "observer", observer, models.ClientInfo{})
	require.True(t, hub.Subscribe("obs", realtime.EntityChannel("order", "o1")))
	repo := newMemCommentRepo()
	return NewService(repo, broadcast.NewBroadcaster(hub, nil, testLogger()), testLogger()), repo, observer
}

func TestCreate_RootComment(t *testing.T) {
	svc, _, observer := newTestService(t)

	comment, err := svc.Create(context.Background(), "alice", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		FieldPath:  "notes",
		Body:       "is this price right?",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", comment.AuthorUserID)
	assert.Equal(t, models.CommentStatusOpen, comment.Status)
	assert.Nil(t, comment.ParentID)
	assert.Nil(t, comment.ThreadRootID)
	assert.Contains(t, observer.eventTypes(t), realtime.EventCommentAdded)
}

func TestCreate_ReplyInheritsPlacementAndRoot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	root, err := svc.Create(ctx, "alice", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		FieldPath:  "notes",
		Body:       "root",
	})
	require.NoError(t, err)

	// The reply claims a different entity; the parent's placement wins
	reply, err := svc.Create(ctx, "bob", models.CreateCommentRequest{
		EntityType: "invoice",
		EntityID:   "other",
		Body:       "reply",
		ParentID:   &root.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "order", reply.EntityType)
	assert.Equal(t, "o1", reply.EntityID)
	assert.Equal(t, "notes", reply.FieldPath)
	require.NotNil(t, reply.ThreadRootID)
	assert.Equal(t, root.ID, *reply.ThreadRootID)

	// A reply to the reply still roots at the thread starter
	nested, err := svc.Create(ctx, "carol", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		Body:       "nested",
		ParentID:   &reply.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, nested.ThreadRootID)
	assert.Equal(t, root.ID, *nested.ThreadRootID)

	thread, err := svc.GetThread(ctx, nested.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 3)
}

func TestCreate_ReplyToMissingParent(t *testing.T) {
	svc, _, _ := newTestService(t)
	missing := "nope"

	_, err := svc.Create(context.Background(), "alice", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		Body:       "reply",
		ParentID:   &missing,
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestUpdate_OnlyAuthorMayEdit(t *testing.T) {
	svc, _, observer := newTestService(t)
	ctx := context.Background()

	comment, err := svc.Create(ctx, "alice", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		Body:       "draft",
	})
	require.NoError(t, err)

	body := "edited"
	_, err = svc.Update(ctx, comment.ID, "bob", models.UpdateCommentRequest{Body: &body})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, httperror.GetStatusCode(err))

	updated, err := svc.Update(ctx, comment.ID, "alice", models.UpdateCommentRequest{Body: &body})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Body)
	assert.Contains(t, observer.eventTypes(t), realtime.EventCommentUpdated)
}

func TestResolveAndReopen(t *testing.T) {
	svc, _, observer := newTestService(t)
	ctx := context.Background()

	comment, err := svc.Create(ctx, "alice", models.CreateCommentRequest{
		EntityType: "order",
		EntityID:   "o1",
		Body:       "fix this",
	})
	require.NoError(t, err)

	// Anyone in the session may resolve, not just the author
	resolved, err := svc.Resolve(ctx, comment.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.CommentStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "bob", *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Contains(t, observer.eventTypes(t), realtime.EventCommentResolved)

	reopened, err := svc.Reopen(ctx, comment.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.CommentStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestListByEntity_FieldFilter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, field := range []string{"notes", "notes", "title"} {
		_, err := svc.Create(ctx, "alice", models.CreateCommentRequest{
			EntityType: "order",
			EntityID:   "o1",
			FieldPath:  field,
			Body:       "c",
		})
		require.NoError(t, err)
	}

	all, total, err := svc.ListByEntity(ctx, "order", "o1", nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	field := "notes"
	scoped, total, err := svc.ListByEntity(ctx, "order", "o1", &field, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, scoped, 2)
}
