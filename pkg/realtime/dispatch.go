package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
)

// HandlerFunc processes one inbound message type. The raw message is passed
// through so handlers decode their own fields.
type HandlerFunc func(ctx context.Context, client *Client, message json.RawMessage) error

// Dispatcher maps the closed set of inbound message types to handler
// functions. Built once at startup; registration is not concurrency-safe and
// must finish before serving.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   ectologger.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a message type to its handler
func (d *Dispatcher) Register(messageType string, handler HandlerFunc) {
	d.handlers[messageType] = handler
}

// Dispatch routes one inbound message. Malformed envelopes and handler errors
// are replied to the originating connection only, never broadcast.
func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil || envelope.Type == "" {
		d.replyError(client, "Invalid message envelope")
		return
	}

	handler, ok := d.handlers[envelope.Type]
	if !ok {
		d.replyError(client, fmt.Sprintf("Unknown event type: %s", envelope.Type))
		return
	}

	if err := handler(ctx, client, message); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"message_type":  envelope.Type,
			"connection_id": client.ConnectionID,
		}).Warn("Message handler failed")
		message := "internal error"
		if httperror.IsHTTPError(err) {
			message = httperror.ToHTTPError(err).Error()
		}
		d.replyError(client, message)
	}
}

func (d *Dispatcher) replyError(client *Client, message string) {
	envelope := Envelope{
		Type:    EventError,
		Payload: ErrorPayload{Error: message},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	_ = client.Send(data)
}
