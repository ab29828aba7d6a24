// Package relay keeps the UI's single connection to the relay channel and
// exchanges typed envelopes with the dApp connector and the backend.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAckTimeout = 3 * time.Second
)

var (
	ErrNotConnected     = errors.New("relay client is not connected")
	ErrClosed           = errors.New("relay client is closed")
	ErrAckTimeout       = errors.New("relay request timed out waiting for reply")
	ErrRetriesExhausted = errors.New("relay reconnect attempts exhausted")
	errNilHandler       = errors.New("nil relay handler")
)

var (
	defaultReconnectOpts = ReconnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     8,
		MaxElapsed:      2 * time.Minute,
	}
)

// Handler receives envelopes addressed to the UI.
type Handler func(env Envelope)

// SubscriptionID identifies a registered handler so it can be removed.
type SubscriptionID uint64

// ReconnectPolicy bounds how hard the client tries to reach the relay.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint
	MaxElapsed      time.Duration
}

// Recorder receives connection and traffic counts.
type Recorder interface {
	ConnectAttempt()
	Reconnect()
	Event(t EventType)
}

type nopRecorder struct{}

func (nopRecorder) ConnectAttempt()   {}
func (nopRecorder) Reconnect()        {}
func (nopRecorder) Event(_ EventType) {}

type Options struct {
	Origin     string
	RequestID  string
	AckTimeout time.Duration
	Reconnect  ReconnectPolicy
	Logger     *log.Logger
	Recorder   Recorder
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Client owns exactly one relay connection, tagged with the UI role. It is
// constructed per session and must be closed on logout.
type Client struct {
	dialer   Dialer
	opts     Options
	logger   *log.Entry
	recorder Recorder

	mu         sync.Mutex
	conn       Conn
	auth       Auth
	connected  bool
	connecting bool
	closed     bool
	err        error
	nextID     SubscriptionID
	handlers   map[EventType][]subscription
	pending    map[string]chan Envelope

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

func NewClient(dialer Dialer, opts Options) *Client {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Reconnect.InitialInterval <= 0 {
		opts.Reconnect.InitialInterval = defaultReconnectOpts.InitialInterval
	}
	if opts.Reconnect.MaxInterval <= 0 {
		opts.Reconnect.MaxInterval = defaultReconnectOpts.MaxInterval
	}
	if opts.Reconnect.MaxAttempts == 0 {
		opts.Reconnect.MaxAttempts = defaultReconnectOpts.MaxAttempts
	}
	if opts.Reconnect.MaxElapsed <= 0 {
		opts.Reconnect.MaxElapsed = defaultReconnectOpts.MaxElapsed
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		dialer:   dialer,
		opts:     opts,
		logger:   opts.Logger.WithField("component", "relay"),
		recorder: recorder,
		handlers: make(map[EventType][]subscription),
		pending:  make(map[string]chan Envelope),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Connect opens the relay connection for sessionID. Calling it while a
// connection is open or being opened does nothing.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.auth = Auth{
		Username:  RoleUI,
		SessionID: sessionID,
		Origin:    c.opts.Origin,
		RequestID: c.opts.RequestID,
	}
	c.mu.Unlock()

	// Close must interrupt a dial that is waiting between attempts.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	policy := c.opts.Reconnect
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	conn, err := backoff.Retry(ctx, func() (Conn, error) {
		c.mu.Lock()
		closed := c.closed
		auth := c.auth
		c.mu.Unlock()
		if closed {
			return nil, backoff.Permanent(ErrClosed)
		}

		auth.Date = time.Now()
		c.recorder.ConnectAttempt()
		conn, err := c.dialer.Dial(ctx, auth)
		if err != nil {
			c.logger.WithField("session", auth.SessionID).Warnf("relay connect failed: %v", err)
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithMaxElapsedTime(policy.MaxElapsed),
	)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, ErrClosed) {
		return nil, ErrClosed
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errors.Wrapf(ErrRetriesExhausted, "last error: %v", err)
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	sessionID := c.auth.SessionID
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.WithField("session", sessionID).Info("relay connected")
	c.dispatch(Envelope{To: RoleUI, Room: sessionID, Type: EventTransportConnect})

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		env, err := conn.Read()
		if err != nil {
			var malformed *MalformedError
			if errors.As(err, &malformed) {
				c.logger.Warnln(err)
				continue
			}
			c.handleDisconnect(conn, err)
			return
		}

		c.recorder.Event(env.Type)
		if env.To != RoleUI {
			continue
		}
		if c.resolve(env) {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) handleDisconnect(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	closed := c.closed
	if !closed {
		c.connecting = true
	}
	sessionID := c.auth.SessionID
	c.mu.Unlock()

	conn.Close()
	c.dispatch(Envelope{To: RoleUI, Room: sessionID, Type: EventTransportDisconnect})
	if closed {
		return
	}

	c.logger.WithField("session", sessionID).Warnf("relay disconnected: %v, reconnecting", cause)
	c.recorder.Reconnect()
	next, err := c.dial(c.ctx)
	if err != nil {
		c.fail(err)
		return
	}
	c.attach(next)
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.connecting = false
	if !c.closed {
		c.err = err
	}
	c.mu.Unlock()
	if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		c.logger.Errorf("relay client giving up: %v", err)
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// Emit sends env as the UI. The room and request id default to the session
// values when unset.
func (c *Client) Emit(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	auth := c.auth
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	env.Username = RoleUI
	if env.Room == "" {
		env.Room = auth.SessionID
	}
	if env.RequestID == "" {
		env.RequestID = auth.RequestID
	}
	if err := conn.Write(env); err != nil {
		return errors.Wrapf(err, "error emitting %s to %s", env.Type, env.To)
	}
	return nil
}

// Request emits env under a fresh request id and waits for the reply that
// echoes it. No reply within the ack timeout is a failure.
func (c *Client) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	reply := make(chan Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Envelope{}, ErrClosed
	}
	c.pending[env.RequestID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.Emit(ctx, env); err != nil {
		return Envelope{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r, nil
	case <-timer.C:
		return Envelope{}, errors.Wrapf(ErrAckTimeout, "%s request %s", env.Type, env.RequestID)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.done:
		if err := c.Err(); err != nil {
			return Envelope{}, err
		}
		return Envelope{}, ErrClosed
	}
}

func (c *Client) resolve(env Envelope) bool {
	if env.RequestID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
	return ok
}

// On registers h for envelopes of type t addressed to the UI.
func (c *Client) On(t EventType, h Handler) SubscriptionID {
	if h == nil {
		panic(errNilHandler)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[t] = append(c.handlers[t], subscription{id: c.nextID, handler: h})
	return c.nextID
}

// Off removes a handler registered with On.
func (c *Client) Off(t EventType, id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.handlers[t]
	for i, s := range subs {
		if s.id == id {
			c.handlers[t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handlers[t]) == 0 {
		delete(c.handlers, t)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	subs := append([]subscription(nil), c.handlers[env.Type]...)
	c.mu.Unlock()
	for _, s := range subs {
		s.handler(env)
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed once the client is closed or stops reconnecting.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the client stopped reconnecting, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down and stops reconnecting. It must not be
// called from a handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	c.doneOnce.Do(func() { close(c.done) })
	return err
}
