package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classhub/pkg/types"
)

// Client is a websocket test client speaking the envelope protocol.
type Client struct {
	conn      *websocket.Conn
	envelopes chan types.Envelope
	done      chan struct{}

	mu        sync.Mutex
	closeErr  error
	closeOnce sync.Once
}

// DialOptions selects the endpoint and credential for Dial.
type DialOptions struct {
	Path       string // "/ws/teacher" or "/ws/student"
	ClassID    string
	Token      string
	CookieName string // defaults to classhub_session
}

// Dial connects to serverURL (an http:// httptest URL) and starts reading.
func Dial(ctx context.Context, serverURL string, opts DialOptions) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = opts.Path
	if opts.ClassID != "" {
		q := u.Query()
		q.Set("classId", opts.ClassID)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if opts.Token != "" {
		name := opts.CookieName
		if name == "" {
			name = "classhub_session"
		}
		header.Set("Cookie", (&http.Cookie{Name: name, Value: opts.Token}).String())
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:      conn,
		envelopes: make(chan types.Envelope, 256),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case c.envelopes <- env:
		default:
			// full buffer, drop; tests never read this far behind
		}
	}
}

// Send writes one envelope of kind with payload.
func (c *Client) Send(kind types.Kind, payload any) error {
	env, err := types.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes data as a text frame unchanged.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Next returns the next envelope received.
func (c *Client) Next(timeout time.Duration) (types.Envelope, error) {
	select {
	case env := <-c.envelopes:
		return env, nil
	case <-time.After(timeout):
		return types.Envelope{}, fmt.Errorf("timeout waiting for envelope")
	case <-c.done:
		// drain anything read before the socket closed
		select {
		case env := <-c.envelopes:
			return env, nil
		default:
		}
		return types.Envelope{}, fmt.Errorf("client disconnected: %w", c.Err())
	}
}

// WaitFor skips envelopes until one of kind arrives.
func (c *Client) WaitFor(kind types.Kind, timeout time.Duration) (types.Envelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.Envelope{}, fmt.Errorf("timeout waiting for %s", kind)
		}
		env, err := c.Next(remaining)
		if err != nil {
			return types.Envelope{}, err
		}
		if env.Kind == kind {
			return env, nil
		}
	}
}

// Done closes when the server side closed the socket.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close sends a normal close frame and closes the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
