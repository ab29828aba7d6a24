package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	ErrUnauthorized = errors.New("relay rejected session credentials")
)

// Auth is the metadata the relay validates before accepting a connection.
type Auth struct {
	Username  Role
	SessionID string
	Origin    string
	RequestID string
	Date      time.Time
}

// Conn is a single established relay connection.
type Conn interface {
	Read() (Envelope, error)
	Write(env Envelope) error
	Close() error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, auth Auth) (Conn, error)
}

// MalformedError reports a frame that arrived intact but could not be
// decoded. The connection stays usable.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return "malformed relay frame: " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

// WebsocketDialer connects to a relay over a websocket. Auth metadata travels
// in the query string so the relay can validate it during the handshake.
type WebsocketDialer struct {
	URL          string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

func NewWebsocketDialer(rawURL string) *WebsocketDialer {
	return &WebsocketDialer{
		URL:          rawURL,
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 5 * time.Second,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, auth Auth) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid relay url %s", d.URL)
	}
	q := u.Query()
	q.Set("username", string(auth.Username))
	q.Set("sessionId", auth.SessionID)
	q.Set("origin", auth.Origin)
	q.Set("request_id", auth.RequestID)
	q.Set("data", auth.Date.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if auth.Origin != "" {
		header.Set("Origin", auth.Origin)
	}

	conn, resp, err := d.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(ErrUnauthorized, "session %s", auth.SessionID)
		}
		return nil, errors.Wrapf(err, "error dialing relay %s", d.URL)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	wmu          sync.Mutex
	closeOnce    sync.Once
}

func (c *wsConn) Read() (Envelope, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &MalformedError{Err: err}
	}
	return env, nil
}

func (c *wsConn) Write(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}
