package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Control message types. Anything else is an application message.
const (
	// TypeHello authenticates the channel (client -> server).
	TypeHello = "hello"
	// TypeHelloAck accepts the hello (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeError reports a failure (server -> client).
	TypeError = "error"
)

// Error codes the server uses to reject the presented access token.
const (
	CodeAuthFailed   = "auth_failed"
	CodeUnauthorized = "unauthorized"
	CodeTokenExpired = "token_expired"
	CodeHelloFailed  = "hello_failed"
)

var authErrorCodes = map[string]struct{}{
	CodeAuthFailed:   {},
	CodeUnauthorized: {},
	CodeTokenExpired: {},
	CodeHelloFailed:  {},
}

// Close codes in the private range the server uses for credential rejection.
const (
	StatusUnauthorized websocket.StatusCode = 4401
	StatusForbidden    websocket.StatusCode = 4403
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	Token string `json:"token"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope wraps payload with a fresh id and timestamp.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: uuid.NewString(), TS: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("[realtime.NewEnvelope] marshal %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	return nil
}

// AuthError reports whether e is an error envelope rejecting the channel's credentials.
func (e Envelope) AuthError() (ErrorPayload, bool) {
	if e.Type != TypeError {
		return ErrorPayload{}, false
	}
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ErrorPayload{}, false
	}
	_, ok := authErrorCodes[p.Code]
	return p, ok
}

func isAuthCloseStatus(code websocket.StatusCode) bool {
	return code == StatusUnauthorized || code == StatusForbidden
}
