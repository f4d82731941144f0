// Package watest provides a scripted in-memory transport for tests.
package watest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubescolar/whatsapp/internal/wa"
)

// Sent records one SendText call.
type Sent struct {
	Phone string
	Text  string
}

// Client is a wa.Client whose events are pushed by the test.
type Client struct {
	SessionID string

	events chan wa.Event

	mu          sync.Mutex
	phone       string
	connectErr  error
	logoutErr   error
	sendFn      func(ctx context.Context, phone, text string) (wa.SendReceipt, error)
	connectFn   func()
	sent        []Sent
	connects    int
	disconnects int
	loggedOut   bool
}

// NewClient returns a fake client with a generous event buffer.
func NewClient(sessionID string) *Client {
	return &Client{SessionID: sessionID, events: make(chan wa.Event, 64)}
}

// Emit pushes a transport event to the consumer.
func (c *Client) Emit(evt wa.Event) {
	c.events <- evt
}

// SetPhone sets the number reported by PhoneNumber.
func (c *Client) SetPhone(phone string) {
	c.mu.Lock()
	c.phone = phone
	c.mu.Unlock()
}

// FailConnect makes Connect return err.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// FailLogout makes Logout return err.
func (c *Client) FailLogout(err error) {
	c.mu.Lock()
	c.logoutErr = err
	c.mu.Unlock()
}

// OnConnect runs fn inside Connect, before it returns.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.connectFn = fn
	c.mu.Unlock()
}

// OnSend replaces the default send behaviour, which succeeds with a
// generated provider id.
func (c *Client) OnSend(fn func(ctx context.Context, phone, text string) (wa.SendReceipt, error)) {
	c.mu.Lock()
	c.sendFn = fn
	c.mu.Unlock()
}

// Sent returns the recorded sends.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Disconnects returns how many times Disconnect was called.
func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// LoggedOut reports whether Logout was called successfully.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Client) Events() <-chan wa.Event { return c.events }

func (c *Client) Connect(context.Context) error {
	c.mu.Lock()
	c.connects++
	fn, err := c.connectFn, c.connectErr
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

func (c *Client) SendText(ctx context.Context, phone, text string) (wa.SendReceipt, error) {
	c.mu.Lock()
	fn := c.sendFn
	c.sent = append(c.sent, Sent{Phone: phone, Text: text})
	n := len(c.sent)
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, phone, text)
	}
	return wa.SendReceipt{ProviderID: fmt.Sprintf("3EB0%06d", n), Timestamp: time.Now()}, nil
}

func (c *Client) PhoneNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phone
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *Client) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logoutErr != nil {
		return c.logoutErr
	}
	c.loggedOut = true
	return nil
}

// Factory builds fake clients and remembers the last one per session.
type Factory struct {
	// Delay is slept inside NewClient to widen race windows.
	Delay time.Duration
	// Err, when set, fails every NewClient call.
	Err error
	// Prepare runs on each new client before it is returned.
	Prepare func(c *Client)

	created atomic.Int32
	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory returns an empty fake factory.
func NewFactory() *Factory {
	return &Factory{clients: make(map[string]*Client)}
}

func (f *Factory) NewClient(ctx context.Context, sessionID string) (wa.Client, error) {
	f.created.Add(1)
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewClient(sessionID)
	if f.Prepare != nil {
		f.Prepare(c)
	}
	f.mu.Lock()
	f.clients[sessionID] = c
	f.mu.Unlock()
	return c, nil
}

// Created returns how many clients were requested.
func (f *Factory) Created() int {
	return int(f.created.Load())
}

// Client returns the most recent client built for sessionID.
func (f *Factory) Client(sessionID string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[sessionID]
}
