package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

const (
	defaultSubprotocol      = "authclient.realtime.v1"
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// Conn is an authenticated push channel. Read returns an error wrapping
// errors.ErrChannelAuthRejected when the server rejects the credentials and one wrapping
// errors.ErrNetworkFailure when the connection drops.
type Conn interface {
	Read(ctx context.Context) (Envelope, error)
	Write(ctx context.Context, env Envelope) error
	Close() error
}

// Dialer opens a channel authenticated with an access token. A refused handshake wraps
// errors.ErrChannelAuthRejected; anything else transient wraps errors.ErrNetworkFailure.
type Dialer interface {
	Dial(ctx context.Context, accessToken string) (Conn, error)
}

// WebsocketDialer dials the realtime endpoint, presents the token both as a Bearer header and
// in a hello envelope, and waits for hello_ack.
type WebsocketDialer struct {
	url              string
	subprotocol      string
	handshakeTimeout time.Duration
	httpClient       *http.Client
	log              zerolog.Logger
}

var _ Dialer = (*WebsocketDialer)(nil)

type DialerOption func(*WebsocketDialer)

func WithSubprotocol(p string) DialerOption {
	return func(d *WebsocketDialer) {
		d.subprotocol = p
	}
}

func WithHandshakeTimeout(t time.Duration) DialerOption {
	return func(d *WebsocketDialer) {
		d.handshakeTimeout = t
	}
}

func WithDialHTTPClient(c *http.Client) DialerOption {
	return func(d *WebsocketDialer) {
		d.httpClient = c
	}
}

func WithDialerLogger(l zerolog.Logger) DialerOption {
	return func(d *WebsocketDialer) {
		d.log = l
	}
}

func NewWebsocketDialer(url string, options ...DialerOption) *WebsocketDialer {
	d := &WebsocketDialer{
		url:              url,
		subprotocol:      defaultSubprotocol,
		handshakeTimeout: defaultHandshakeTimeout,
		log:              log.Logger,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *WebsocketDialer) Dial(ctx context.Context, accessToken string) (Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)

	c, resp, err := websocket.Dial(hctx, d.url, &websocket.DialOptions{
		Subprotocols: []string{d.subprotocol},
		HTTPHeader:   h,
		HTTPClient:   d.httpClient,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("[WebsocketDialer.Dial] handshake status %d: %w", resp.StatusCode, errors.ErrChannelAuthRejected)
		}
		return nil, fmt.Errorf("[WebsocketDialer.Dial] %w: %w", errors.ErrNetworkFailure, err)
	}
	if c.Subprotocol() != d.subprotocol {
		_ = c.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("[WebsocketDialer.Dial] server did not select %q: %w", d.subprotocol, errors.ErrMalformedResponse)
	}

	conn := &wsConn{c: c}
	hello, err := NewEnvelope(TypeHello, HelloPayload{Token: accessToken})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.Write(hctx, hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	ack, err := conn.Read(hctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ack.Type != TypeHelloAck {
		_ = conn.Close()
		return nil, fmt.Errorf("[WebsocketDialer.Dial] expected %s, got %q: %w", TypeHelloAck, ack.Type, errors.ErrMalformedResponse)
	}
	d.log.Debug().Str("url", d.url).Msg("realtime.handshake")
	return conn, nil
}

type wsConn struct {
	c *websocket.Conn
}

// Read returns the next envelope. Error envelopes carrying an auth code and 4401/4403 close
// frames become rejections.
func (w *wsConn) Read(ctx context.Context) (Envelope, error) {
	mt, data, err := w.c.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); isAuthCloseStatus(code) {
			return Envelope{}, fmt.Errorf("[realtime.Read] closed with %d: %w", code, errors.ErrChannelAuthRejected)
		}
		return Envelope{}, fmt.Errorf("[realtime.Read] %w: %w", errors.ErrNetworkFailure, err)
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("[realtime.Read] unsupported message type %v: %w", mt, errors.ErrMalformedResponse)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("[realtime.Read] decode: %w: %w", errors.ErrMalformedResponse, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("[realtime.Read] %w: %w", errors.ErrMalformedResponse, err)
	}
	if p, ok := env.AuthError(); ok {
		return env, fmt.Errorf("[realtime.Read] %s: %s: %w", p.Code, p.Message, errors.ErrChannelAuthRejected)
	}
	return env, nil
}

func (w *wsConn) Write(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("[realtime.Write] encode: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.c.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("[realtime.Write] %w: %w", errors.ErrNetworkFailure, err)
	}
	return nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
