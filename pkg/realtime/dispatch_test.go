package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBufferedClient builds a client without a live socket; error replies queue
// on the send buffer where the test reads them
func newBufferedClient() *Client {
	return &Client{
		ConnectionID: "c1",
		UserID:       "alice",
		send:         make(chan []byte, 16),
		cfg:          DefaultClientConfig(),
		closeOnce:    make(chan struct{}),
	}
}

func queuedErrors(t *testing.T, client *Client) []string {
	t.Helper()
	var out []string
	for {
		select {
		case raw := <-client.send:
			var env struct {
				Type    string       `json:"type"`
				Payload ErrorPayload `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(raw, &env))
			require.Equal(t, EventError, env.Type)
			out = append(out, env.Payload.Error)
		default:
			return out
		}
	}
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d := NewDispatcher(testLogger())
	var got string
	d.Register("presence:heartbeat", func(_ context.Context, _ *Client, message json.RawMessage) error {
		got = string(message)
		return nil
	})

	client := newBufferedClient()
	d.Dispatch(context.Background(), client, []byte(`{"type":"presence:heartbeat"}`))

	assert.JSONEq(t, `{"type":"presence:heartbeat"}`, got)
	assert.Empty(t, queuedErrors(t, client))
}

func TestDispatch_InvalidEnvelope(t *testing.T) {
	d := NewDispatcher(testLogger())
	client := newBufferedClient()

	d.Dispatch(context.Background(), client, []byte(`not json`))
	d.Dispatch(context.Background(), client, []byte(`{"channel":"x"}`))

	errs := queuedErrors(t, client)
	require.Len(t, errs, 2)
	for _, msg := range errs {
		assert.Equal(t, "Invalid message envelope", msg)
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	d := NewDispatcher(testLogger())
	client := newBufferedClient()

	d.Dispatch(context.Background(), client, []byte(`{"type":"nope"}`))

	errs := queuedErrors(t, client)
	require.Len(t, errs, 1)
	assert.Equal(t, "Unknown event type: nope", errs[0])
}

func TestDispatch_HandlerErrorRepliesToOriginatingConnection(t *testing.T) {
	d := NewDispatcher(testLogger())
	d.Register("lock:release", func(context.Context, *Client, json.RawMessage) error {
		return httperror.NewHTTPError(http.StatusForbidden, "lock l1 is held by another user")
	})

	client := newBufferedClient()
	d.Dispatch(context.Background(), client, []byte(`{"type":"lock:release"}`))

	errs := queuedErrors(t, client)
	require.Len(t, errs, 1)
	assert.Equal(t, "lock l1 is held by another user", errs[0])
}
