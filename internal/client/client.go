// Package client talks to a running whatsappd over its HTTP API and
// health socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoQRCode is returned when the session has no pending pairing code.
var ErrNoQRCode = errors.New("QR code not available")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Detail     string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// Client wraps a resty client bound to the daemon's base URL.
type Client struct {
	http *resty.Client
}

// New returns a client for baseURL (e.g. http://localhost:3001/whatsapp).
// token, when set, is sent as a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		r.SetAuthToken(token)
	}
	return &Client{http: r}
}

// BaseURL derives the URL a local client reaches the daemon at from its
// listen address and base path.
func BaseURL(addr, basePath string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + normalizePath(basePath)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + normalizePath(basePath)
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&APIError{})
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr.Message == "" {
		apiErr = &APIError{Message: strings.TrimSpace(resp.String())}
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

// SessionInfo is one row of the session list.
type SessionInfo struct {
	SessionID     string    `json:"sessionId"`
	IsReady       bool      `json:"isReady"`
	IsInitialized bool      `json:"isInitialized"`
	Status        string    `json:"status"`
	PhoneNumber   *string   `json:"phoneNumber"`
	HasQR         bool      `json:"hasQr"`
	Failure       string    `json:"failure"`
	Since         time.Time `json:"since"`
}

// Sessions lists the sessions registered in the daemon.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out struct {
		Data []SessionInfo `json:"data"`
	}
	if err := check(c.req(ctx).SetResult(&out).Get("/auth/sessions")); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AuthStatus is the connection state of one session.
type AuthStatus struct {
	Connected   bool      `json:"connected"`
	PhoneNumber *string   `json:"phoneNumber"`
	Status      string    `json:"status"`
	SessionID   string    `json:"sessionId"`
	Failure     string    `json:"failure"`
	Timestamp   time.Time `json:"timestamp"`
}

// AuthStatus reports the state of a session without starting it.
func (c *Client) AuthStatus(ctx context.Context, sessionID string) (*AuthStatus, error) {
	var out AuthStatus
	err := check(c.req(ctx).SetQueryParam("sessionId", sessionID).SetResult(&out).Get("/auth/status"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// QRCode starts the session if needed and returns its raw pairing code.
func (c *Client) QRCode(ctx context.Context, sessionID string) (string, error) {
	resp, err := c.req(ctx).
		SetQueryParams(map[string]string{"sessionId": sessionID, "format": "text"}).
		Get("/auth/qrcode")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return "", ErrNoQRCode
	}
	if err := check(resp, err); err != nil {
		return "", err
	}
	return resp.String(), nil
}

// QRCodePNG returns the session's pairing code rendered as a PNG.
func (c *Client) QRCodePNG(ctx context.Context, sessionID string) ([]byte, error) {
	resp, err := c.req(ctx).
		SetHeader("Accept", "image/png").
		SetQueryParam("sessionId", sessionID).
		Get("/auth/qrcode")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNoQRCode
	}
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

type sessionAction struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Disconnect tears a session down, keeping its credentials.
func (c *Client) Disconnect(ctx context.Context, sessionID string) (string, error) {
	return c.sessionAction(ctx, "/auth/disconnect", sessionID)
}

// Reset logs a session out and wipes its credentials.
func (c *Client) Reset(ctx context.Context, sessionID string) (string, error) {
	return c.sessionAction(ctx, "/auth/reset", sessionID)
}

func (c *Client) sessionAction(ctx context.Context, path, sessionID string) (string, error) {
	var out sessionAction
	err := check(c.req(ctx).
		SetBody(map[string]string{"sessionId": sessionID}).
		SetResult(&out).
		Post(path))
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// SendRequest is an outbound text message.
type SendRequest struct {
	Phone     string            `json:"phone"`
	Message   string            `json:"message"`
	SessionID string            `json:"sessionId,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	UserName  string            `json:"userName,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Send sends one text message.
func (c *Client) Send(ctx context.Context, r SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := check(c.req(ctx).SetBody(r).SetResult(&out).Post("/messages/send")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Message is a stored message record.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Phone     string            `json:"phone"`
	Message   string            `json:"message"`
	Direction string            `json:"direction"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// MessageStatus returns the record with exactly id.
func (c *Client) MessageStatus(ctx context.Context, id string) (*Message, error) {
	var out struct {
		Data Message `json:"data"`
	}
	err := check(c.req(ctx).SetPathParam("id", id).SetResult(&out).Get("/messages/status/{id}"))
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Candidates lists records whose id contains fragment.
func (c *Client) Candidates(ctx context.Context, fragment string) ([]Message, error) {
	var out struct {
		Data []Message `json:"data"`
	}
	err := check(c.req(ctx).
		SetPathParam("id", fragment).
		SetQueryParam("match", "partial").
		SetResult(&out).
		Get("/messages/status/{id}"))
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListMessages returns the newest records, optionally filtered.
func (c *Client) ListMessages(ctx context.Context, phone, sessionID string) ([]Message, error) {
	var out struct {
		Data []Message `json:"data"`
	}
	r := c.req(ctx).SetResult(&out)
	if phone != "" {
		r.SetQueryParam("phone", phone)
	}
	if sessionID != "" {
		r.SetQueryParam("sessionId", sessionID)
	}
	if err := check(r.Get("/messages")); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ServiceStatus summarizes the daemon.
type ServiceStatus struct {
	Uptime   string `json:"uptime"`
	Sessions struct {
		Total   int            `json:"total"`
		Ready   int            `json:"ready"`
		ByState map[string]int `json:"byState"`
	} `json:"sessions"`
	Messages map[string]int `json:"messages"`
}

// Status returns the service summary.
func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	var out ServiceStatus
	if err := check(c.req(ctx).SetResult(&out).Get("/status")); err != nil {
		return nil, err
	}
	return &out, nil
}
