package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	failSend bool
	closed   bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("buffer full")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.messages))
	for _, raw := range f.messages {
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestConnect_FirstConnectionPerUser(t *testing.T) {
	hub := NewHub(testLogger())

	first := hub.Connect("c1", "alice", &fakeTransport{}, models.ClientInfo{})
	assert.True(t, first)

	second := hub.Connect("c2", "alice", &fakeTransport{}, models.ClientInfo{})
	assert.False(t, second)

	other := hub.Connect("c3", "bob", &fakeTransport{}, models.ClientInfo{})
	assert.True(t, other)

	assert.Equal(t, 3, hub.ConnectionCount())
}

func TestDisconnect_ReportsLastConnection(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Connect("c1", "alice", &fakeTransport{}, models.ClientInfo{})
	hub.Connect("c2", "alice", &fakeTransport{}, models.ClientInfo{})

	userID, wasLast, existed := hub.Disconnect("c1")
	assert.Equal(t, "alice", userID)
	assert.False(t, wasLast)
	assert.True(t, existed)

	userID, wasLast, existed = hub.Disconnect("c2")
	assert.Equal(t, "alice", userID)
	assert.True(t, wasLast)
	assert.True(t, existed)

	// Close can race a read timeout: the second call must be a no-op
	_, _, existed = hub.Disconnect("c2")
	assert.False(t, existed)
}

func TestBroadcast_DeliversToSubscribersOnly(t *testing.T) {
	hub := NewHub(testLogger())
	subscribed := &fakeTransport{}
	unsubscribed := &fakeTransport{}
	hub.Connect("c1", "alice", subscribed, models.ClientInfo{})
	hub.Connect("c2", "bob", unsubscribed, models.ClientInfo{})
	require.True(t, hub.Subscribe("c1", "entity:order:1"))

	hub.Broadcast(NewEvent("entity:order:1", "entity:updated", map[string]string{"id": "1"}, "carol"))

	envs := subscribed.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "entity:updated", envs[0].Type)
	assert.Equal(t, "entity:order:1", envs[0].Channel)
	assert.Equal(t, "carol", envs[0].SenderID)
	assert.Empty(t, unsubscribed.envelopes(t))
}

func TestBroadcast_ExcludesSenderAcrossAllTheirConnections(t *testing.T) {
	hub := NewHub(testLogger())
	senderLaptop := &fakeTransport{}
	senderPhone := &fakeTransport{}
	observer := &fakeTransport{}
	hub.Connect("c1", "alice", senderLaptop, models.ClientInfo{})
	hub.Connect("c2", "alice", senderPhone, models.ClientInfo{})
	hub.Connect("c3", "bob", observer, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")
	hub.Subscribe("c2", "session:s1")
	hub.Subscribe("c3", "session:s1")

	hub.Broadcast(NewEvent("session:s1", "change:applied", nil, "alice"))

	assert.Empty(t, senderLaptop.envelopes(t))
	assert.Empty(t, senderPhone.envelopes(t))
	assert.Len(t, observer.envelopes(t), 1)
}

func TestBroadcast_IncludesSenderWhenNotExcluded(t *testing.T) {
	hub := NewHub(testLogger())
	sender := &fakeTransport{}
	hub.Connect("c1", "alice", sender, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")

	event := NewEvent("session:s1", "session:ended", nil, "alice")
	event.ExcludeSender = false
	hub.Broadcast(event)

	assert.Len(t, sender.envelopes(t), 1)
}

func TestBroadcast_TargetUsers(t *testing.T) {
	hub := NewHub(testLogger())
	target := &fakeTransport{}
	other := &fakeTransport{}
	hub.Connect("c1", "alice", target, models.ClientInfo{})
	hub.Connect("c2", "bob", other, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")
	hub.Subscribe("c2", "session:s1")

	event := NewEvent("session:s1", "presence:update", nil, "carol")
	event.TargetUserIDs = []string{"alice"}
	hub.Broadcast(event)

	assert.Len(t, target.envelopes(t), 1)
	assert.Empty(t, other.envelopes(t))
}

func TestBroadcast_PerChannelFIFO(t *testing.T) {
	hub := NewHub(testLogger())
	transport := &fakeTransport{}
	hub.Connect("c1", "alice", transport, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")

	for i := 0; i < 5; i++ {
		hub.Broadcast(NewEvent("session:s1", "change:applied", map[string]int{"seq": i}, "bob"))
	}

	envs := transport.envelopes(t)
	require.Len(t, envs, 5)
	for i, env := range envs {
		payload := env.Payload.(map[string]any)
		assert.Equal(t, float64(i), payload["seq"])
	}
}

func TestBroadcast_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	hub := NewHub(testLogger())
	slow := &fakeTransport{failSend: true}
	healthy := &fakeTransport{}
	hub.Connect("c1", "alice", slow, models.ClientInfo{})
	hub.Connect("c2", "bob", healthy, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")
	hub.Subscribe("c2", "session:s1")

	hub.Broadcast(NewEvent("session:s1", "change:applied", nil, "carol"))

	assert.Empty(t, slow.envelopes(t))
	assert.Len(t, healthy.envelopes(t), 1)
}

func TestSubscribe_UnknownConnection(t *testing.T) {
	hub := NewHub(testLogger())
	assert.False(t, hub.Subscribe("ghost", "session:s1"))
	assert.False(t, hub.Unsubscribe("ghost", "session:s1"))
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	hub := NewHub(testLogger())
	transport := &fakeTransport{}
	hub.Connect("c1", "alice", transport, models.ClientInfo{})
	hub.Subscribe("c1", "session:s1")
	require.True(t, hub.Unsubscribe("c1", "session:s1"))

	hub.Broadcast(NewEvent("session:s1", "change:applied", nil, "bob"))
	assert.Empty(t, transport.envelopes(t))
}

func TestSendToUser_ReachesEveryConnection(t *testing.T) {
	hub := NewHub(testLogger())
	laptop := &fakeTransport{}
	phone := &fakeTransport{}
	hub.Connect("c1", "alice", laptop, models.ClientInfo{})
	hub.Connect("c2", "alice", phone, models.ClientInfo{})

	hub.SendToUser("alice", "lock:denied", map[string]string{"holder_user_id": "bob"})

	assert.Len(t, laptop.envelopes(t), 1)
	assert.Len(t, phone.envelopes(t), 1)
}

func TestSendToConnection(t *testing.T) {
	hub := NewHub(testLogger())
	transport := &fakeTransport{}
	hub.Connect("c1", "alice", transport, models.ClientInfo{})

	assert.True(t, hub.SendToConnection("c1", "error", ErrorPayload{Error: "bad"}))
	assert.False(t, hub.SendToConnection("ghost", "error", nil))

	envs := transport.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "error", envs[0].Type)
}

func TestClose_TearsDownAllConnections(t *testing.T) {
	hub := NewHub(testLogger())
	t1 := &fakeTransport{}
	t2 := &fakeTransport{}
	hub.Connect("c1", "alice", t1, models.ClientInfo{})
	hub.Connect("c2", "bob", t2, models.ClientInfo{})

	hub.Close()

	assert.True(t, t1.closed)
	assert.True(t, t2.closed)
	assert.Equal(t, 0, hub.ConnectionCount())
}
