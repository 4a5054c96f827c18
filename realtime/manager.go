package realtime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
)

const (
	defaultBackoffInitial    = 500 * time.Millisecond
	defaultBackoffMax        = 30 * time.Second
	defaultBackoffMultiplier = 2.0
)

// Session is the part of *session.Manager the connection manager needs.
type Session interface {
	Snapshot() session.Snapshot
	OnTransition(fn func(session.Transition)) (unsubscribe func())
	ForceLogout(ctx context.Context, rejectedToken string, cause error) bool
}

type listener struct {
	id int
	fn func(StateChange)
}

// Manager owns the connection. All connection decisions happen on the goroutine running Run;
// session transitions reach it through a one-slot mailbox that keeps only the newest snapshot.
type Manager struct {
	session Session
	dialer  Dialer

	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMultiplier float64

	onMessage func(Envelope)

	updates    chan session.Snapshot
	updateLock sync.Mutex

	running atomic.Bool

	lock       sync.RWMutex
	state      State
	boundToken string
	listeners  []listener
	nextID     int

	log zerolog.Logger
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithBackoff configures reconnect delays after a network drop. A multiplier below 1 is ignored.
func WithBackoff(initial, max time.Duration, multiplier float64) ManagerOption {
	return func(m *Manager) {
		if initial > 0 {
			m.backoffInitial = initial
		}
		if max > 0 {
			m.backoffMax = max
		}
		if multiplier >= 1 {
			m.backoffMultiplier = multiplier
		}
	}
}

// WithMessageHandler receives every application envelope. It runs on the manager's goroutine
// and must not block.
func WithMessageHandler(fn func(Envelope)) ManagerOption {
	return func(m *Manager) {
		m.onMessage = fn
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

func NewManager(s Session, dialer Dialer, options ...ManagerOption) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("[realtime.NewManager] session is required")
	}
	if dialer == nil {
		return nil, fmt.Errorf("[realtime.NewManager] dialer is required")
	}
	m := &Manager{
		session:           s,
		dialer:            dialer,
		backoffInitial:    defaultBackoffInitial,
		backoffMax:        defaultBackoffMax,
		backoffMultiplier: defaultBackoffMultiplier,
		updates:           make(chan session.Snapshot, 1),
		log:               log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

func (m *Manager) State() State {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.state
}

// BoundToken is the access token of the connection being opened or held, "" otherwise.
func (m *Manager) BoundToken() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.boundToken
}

// OnStateChange registers fn for every state change. Listeners run on the manager's goroutine.
func (m *Manager) OnStateChange(fn func(StateChange)) (unsubscribe func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		m.listeners = slices.DeleteFunc(m.listeners, func(l listener) bool { return l.id == id })
	}
}

// Run binds the connection to the session until ctx ends, then closes it. It may only be
// called once at a time.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("[realtime.Run] already running")
	}
	defer m.running.Store(false)

	unsubscribe := m.session.OnTransition(func(tr session.Transition) { m.push(tr.To) })
	defer unsubscribe()
	m.push(m.session.Snapshot())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffInitial
	bo.MaxInterval = m.backoffMax
	bo.Multiplier = m.backoffMultiplier
	bo.Reset()

	l := &loop{m: m, ctx: ctx, bo: bo, events: make(chan connEvent, 16)}
	return l.run()
}

// push replaces whatever snapshot is waiting with s. It never blocks.
func (m *Manager) push(s session.Snapshot) {
	m.updateLock.Lock()
	defer m.updateLock.Unlock()
	select {
	case <-m.updates:
	default:
	}
	m.updates <- s
}

func (m *Manager) setState(to State, token string, attempt int, cause error) {
	m.lock.Lock()
	from := m.state
	m.state = to
	m.boundToken = token
	ls := slices.Clone(m.listeners)
	m.lock.Unlock()

	if from == to {
		return
	}
	ev := m.log.Debug()
	if to == Rejected {
		ev = m.log.Warn()
	}
	ev.Str("from", from.String()).Str("to", to.String()).Int("attempt", attempt).Err(cause).Msg("realtime.state")

	change := StateChange{From: from, To: to, Attempt: attempt, Err: cause}
	for _, l := range ls {
		l.fn(change)
	}
}

type connEventKind int

const (
	evDialed connEventKind = iota
	evMessage
	evDropped
)

type connEvent struct {
	id   uint64
	kind connEventKind
	conn Conn
	env  Envelope
	err  error
}

type connHandle struct {
	id     uint64
	token  string
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// loop is the state owned by the Run goroutine.
type loop struct {
	m      *Manager
	ctx    context.Context
	bo     *backoff.ExponentialBackOff
	events chan connEvent

	desired  string // token the session wants bound, "" when ineligible
	rejected string // last token the server refused; never redialed
	current  *connHandle
	nextID   uint64
	attempt  int
	retry    *time.Timer
}

func (l *loop) run() error {
	defer l.closeCurrent()
	defer l.stopRetry()

	for {
		var retryC <-chan time.Time
		if l.retry != nil {
			retryC = l.retry.C
		}

		select {
		case <-l.ctx.Done():
			l.closeCurrent()
			l.m.setState(Disconnected, "", 0, nil)
			return nil
		case snap := <-l.m.updates:
			l.reconcile(snap)
		case ev := <-l.events:
			l.handle(ev)
		case <-retryC:
			l.retry = nil
			l.reconnect()
		}
	}
}

// reconcile makes the connection follow the session: closed unless authenticated, and
// re-opened whenever the access token changes. The old connection is always closed first.
func (l *loop) reconcile(snap session.Snapshot) {
	want := ""
	if snap.IsAuthenticated() {
		want = snap.AccessToken()
	}
	if want == l.desired {
		return
	}

	l.closeCurrent()
	l.stopRetry()
	l.bo.Reset()
	l.attempt = 0
	l.desired = want

	if want == "" {
		l.m.setState(Disconnected, "", 0, nil)
		return
	}
	if want == l.rejected {
		l.m.log.Debug().Msg("realtime.skip_rejected_token")
		return
	}
	l.open(want)
}

func (l *loop) open(token string) {
	l.nextID++
	ctx, cancel := context.WithCancel(l.ctx)
	h := &connHandle{id: l.nextID, token: token, ctx: ctx, cancel: cancel}
	l.current = h
	l.m.setState(Connecting, token, l.attempt, nil)

	go func() {
		conn, err := l.m.dialer.Dial(ctx, token)
		l.send(connEvent{id: h.id, kind: evDialed, conn: conn, err: err})
	}()
}

func (l *loop) reconnect() {
	if l.desired == "" || l.current != nil || l.desired == l.rejected {
		return
	}
	l.attempt++
	l.open(l.desired)
}

func (l *loop) send(ev connEvent) {
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
	}
}

func (l *loop) handle(ev connEvent) {
	h := l.current
	if h == nil || ev.id != h.id {
		// From a connection already replaced or closed.
		if ev.kind == evDialed && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evDialed:
		if ev.err != nil {
			l.fail(ev.err)
			return
		}
		h.conn = ev.conn
		l.bo.Reset()
		attempt := l.attempt
		l.attempt = 0
		l.m.setState(Connected, h.token, attempt, nil)
		go l.read(h)

	case evMessage:
		if l.m.onMessage != nil {
			l.m.onMessage(ev.env)
		}

	case evDropped:
		l.fail(ev.err)
	}
}

// read pumps envelopes from h until it fails. A locally closed connection reports nothing.
func (l *loop) read(h *connHandle) {
	for {
		env, err := h.conn.Read(h.ctx)
		if h.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, errors.ErrMalformedResponse) {
				l.m.log.Debug().Err(err).Msg("realtime.message.malformed")
				continue
			}
			l.send(connEvent{id: h.id, kind: evDropped, err: err})
			return
		}
		if env.Type == TypeHelloAck {
			continue
		}
		l.send(connEvent{id: h.id, kind: evMessage, env: env})
	}
}

// fail ends the current connection. A rejection forces a logout exactly once for this
// connection and the token is never redialed; anything else schedules a reconnect.
func (l *loop) fail(cause error) {
	h := l.current
	l.closeCurrent()

	if errors.Is(cause, errors.ErrChannelAuthRejected) {
		l.rejected = h.token
		l.m.setState(Rejected, "", 0, cause)
		if l.m.session.ForceLogout(l.ctx, h.token, cause) {
			l.m.log.Warn().Msg("realtime.rejected.logout")
		}
		return
	}

	delay := l.bo.NextBackOff()
	if delay == backoff.Stop || delay > l.m.backoffMax {
		delay = l.m.backoffMax
	}
	l.m.setState(Disconnected, "", l.attempt, cause)
	l.stopRetry()
	l.retry = time.NewTimer(delay)
	l.m.log.Debug().Dur("delay", delay).Msg("realtime.reconnect.scheduled")
}

func (l *loop) closeCurrent() {
	h := l.current
	if h == nil {
		return
	}
	l.current = nil
	if h.conn != nil {
		_ = h.conn.Close()
	}
	h.cancel()
}

func (l *loop) stopRetry() {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}
