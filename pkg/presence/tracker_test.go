package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
)

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

func newTrackerWithObserver(t *testing.T) (*Tracker, *realtime.Hub, *fakeTransport) {
	t.Helper()
	hub := realtime.NewHub(testLogger())
	observer := &fakeTransport{}
	hub.Connect("obs", "observer", observer, models.ClientInfo{})
	require.True(t, hub.Subscribe("obs", realtime.ChannelPresenceGlobal))
	return NewTracker(hub, testLogger()), hub, observer
}

func TestSetOnline_BroadcastsJoin(t *testing.T) {
	tracker, hub, observer := newTrackerWithObserver(t)
	self := &fakeTransport{}
	hub.Connect("c1", "alice", self, models.ClientInfo{})
	hub.Subscribe("c1", realtime.ChannelPresenceGlobal)

	tracker.SetOnline(context.Background(), "alice", "c1", models.ClientInfo{Platform: "web"})

	assert.Contains(t, observer.eventTypes(t), realtime.EventPresenceJoined)
	// The join echoes back to the joining user as local confirmation
	assert.Contains(t, self.eventTypes(t), realtime.EventPresenceJoined)

	p, ok := tracker.Get("alice")
	require.True(t, ok)
	assert.Equal(t, models.PresenceStatusOnline, p.Status)
	assert.Equal(t, "c1", p.ConnectionID)
	assert.Equal(t, "web", p.ClientInfo.Platform)
}

func TestSetOffline_BroadcastsLeave(t *testing.T) {
	tracker, _, observer := newTrackerWithObserver(t)
	tracker.SetOnline(context.Background(), "alice", "c1", models.ClientInfo{})

	tracker.SetOffline(context.Background(), "alice")

	assert.Contains(t, observer.eventTypes(t), realtime.EventPresenceLeft)
	p, ok := tracker.Get("alice")
	require.True(t, ok)
	assert.Equal(t, models.PresenceStatusOffline, p.Status)
	assert.False(t, p.IsTyping)
}

func TestSetOffline_UnknownUserIsNoop(t *testing.T) {
	tracker, _, observer := newTrackerWithObserver(t)
	tracker.SetOffline(context.Background(), "ghost")
	assert.Empty(t, observer.eventTypes(t))
}

func TestUpdateStatus(t *testing.T) {
	tracker, _, observer := newTrackerWithObserver(t)
	tracker.SetOnline(context.Background(), "alice", "c1", models.ClientInfo{})

	tracker.UpdateStatus(context.Background(), "alice", models.PresenceStatusBusy, "in a meeting")

	p, _ := tracker.Get("alice")
	assert.Equal(t, models.PresenceStatusBusy, p.Status)
	assert.Equal(t, "in a meeting", p.StatusMessage)
	assert.Contains(t, observer.eventTypes(t), realtime.EventPresenceUpdate)
}

func TestTyping_ScopedToEntityChannel(t *testing.T) {
	tracker, hub, globalObserver := newTrackerWithObserver(t)
	entityObserver := &fakeTransport{}
	hub.Connect("c2", "bob", entityObserver, models.ClientInfo{})
	hub.Subscribe("c2", realtime.EntityChannel("order", "o1"))

	tracker.SetOnline(context.Background(), "alice", "c1", models.ClientInfo{})
	tracker.UpdateLocation(context.Background(), "alice", "orders", "order", "o1")
	globalBefore := len(globalObserver.eventTypes(t))

	tracker.StartTyping(context.Background(), "alice", "notes")
	tracker.StopTyping(context.Background(), "alice", "notes")

	types := entityObserver.eventTypes(t)
	assert.Contains(t, types, realtime.EventPresenceTypingStart)
	assert.Contains(t, types, realtime.EventPresenceTypingStop)
	// Typing on an entity never reaches the global channel
	assert.Len(t, globalObserver.eventTypes(t), globalBefore)

	p, _ := tracker.Get("alice")
	assert.False(t, p.IsTyping)
	assert.Empty(t, p.TypingField)
}

func TestGetOnlineUsers_FiltersByEntity(t *testing.T) {
	tracker, _, _ := newTrackerWithObserver(t)
	ctx := context.Background()
	tracker.SetOnline(ctx, "alice", "c1", models.ClientInfo{})
	tracker.SetOnline(ctx, "bob", "c2", models.ClientInfo{})
	tracker.SetOnline(ctx, "carol", "c3", models.ClientInfo{})
	tracker.UpdateLocation(ctx, "alice", "", "order", "o1")
	tracker.UpdateLocation(ctx, "bob", "", "order", "o2")
	tracker.SetOffline(ctx, "carol")

	all := tracker.GetOnlineUsers("", "")
	assert.Len(t, all, 2)

	onO1 := tracker.GetOnlineUsers("order", "o1")
	require.Len(t, onO1, 1)
	assert.Equal(t, "alice", onO1[0].UserID)
}

func TestHeartbeat_KeepsUserAlive(t *testing.T) {
	tracker, _, _ := newTrackerWithObserver(t)
	tracker.SetOnline(context.Background(), "alice", "c1", models.ClientInfo{})

	tracker.Heartbeat("alice")

	swept := tracker.SweepStale(context.Background(), time.Now().UTC().Add(-time.Minute))
	assert.Zero(t, swept)
}

func TestSweepStale_MarksOfflineAndBroadcasts(t *testing.T) {
	tracker, _, observer := newTrackerWithObserver(t)
	ctx := context.Background()
	tracker.SetOnline(ctx, "alice", "c1", models.ClientInfo{})
	tracker.SetOnline(ctx, "bob", "c2", models.ClientInfo{})

	// Everyone's heartbeat is now in the past relative to this cutoff
	swept := tracker.SweepStale(ctx, time.Now().UTC().Add(time.Minute))
	assert.Equal(t, 2, swept)

	for _, user := range []string{"alice", "bob"} {
		p, ok := tracker.Get(user)
		require.True(t, ok)
		assert.Equal(t, models.PresenceStatusOffline, p.Status)
	}

	leaves := 0
	for _, eventType := range observer.eventTypes(t) {
		if eventType == realtime.EventPresenceLeft {
			leaves++
		}
	}
	assert.Equal(t, 2, leaves)

	// Already-offline users are not swept again
	assert.Zero(t, tracker.SweepStale(ctx, time.Now().UTC().Add(time.Minute)))
}
