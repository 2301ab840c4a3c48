// Package session is the networking core of the chat client: it owns the
// token pair, dispatches authenticated HTTP requests with a single
// refresh-and-retry, and maintains the real-time message stream.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"termchat/internal/metrics"
	"termchat/internal/user"
)

const defaultRequestTimeout = 10 * time.Second

type Options struct {
	BaseURL   string // e.g. http://localhost:8000
	StreamURL string // e.g. ws://localhost:8000/ws

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Request is one logical API call.
type Request struct {
	Path  string
	Query url.Values
	Body  any // JSON-encoded when non-nil
}

type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return dataError("malformed response body", err)
	}
	return nil
}

// Client is driven by one event loop; its mutex only guards against the
// stream read pump and concurrent refreshes.
type Client struct {
	opts    Options
	http    *http.Client
	dialer  *websocket.Dialer
	store   CredentialStore
	log     *zap.Logger
	metrics *metrics.Metrics

	refreshes singleflight.Group

	mu     sync.Mutex
	tokens *TokenPair
	user   *user.User
	stream *stream
}

func New(opts Options, store CredentialStore, logger *zap.Logger, m *metrics.Metrics) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:    opts,
		http:    httpClient,
		dialer:  dialer,
		store:   store,
		log:     logger.Named("session"),
		metrics: m,
	}
}

// Resume restores a stored session. It reports whether credentials were
// found; it does not open the message stream.
func (c *Client) Resume() (bool, error) {
	creds, err := c.store.Load()
	if err != nil {
		return false, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || creds.Tokens.AccessToken == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := creds.Tokens
	c.tokens = &tokens
	if creds.User.ID != "" {
		u := creds.User
		c.user = &u
	}
	return true, nil
}

// IsAuthenticated is true iff a token pair is held.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens != nil
}

func (c *Client) CurrentUser() (user.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return user.User{}, false
	}
	return *c.user, true
}

func (c *Client) Tokens() (TokenPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return TokenPair{}, false
	}
	return *c.tokens, true
}

// Logout drops the session and erases stored credentials.
func (c *Client) Logout() {
	c.deauthenticate()
}

func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodGet, req)
}

func (c *Client) Post(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, http.MethodPost, req)
}

// do sends req with the bearer token. A 401 buys exactly one refresh and one
// resend: mayReauthenticate is cleared before the retry, so a second 401
// de-authenticates instead of refreshing again.
func (c *Client) do(ctx context.Context, method string, req Request) (*Response, error) {
	mayReauthenticate := true
	for {
		tokens, ok := c.Tokens()
		if !ok {
			return nil, ErrUnauthenticated
		}

		resp, err := c.send(ctx, method, req, tokens.AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusUnauthorized {
			return checkStatus(resp, KindRequest)
		}

		if !mayReauthenticate {
			c.log.Warn("still unauthorized after refresh", zap.String("path", req.Path))
			c.deauthenticate()
			return nil, ErrUnauthenticated
		}
		mayReauthenticate = false

		c.log.Debug("access token rejected, refreshing", zap.String("path", req.Path))
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Client) send(ctx context.Context, method string, req Request, accessToken string) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, dataError("failed to encode request body", err)
		}
		body = bytes.NewReader(payload)
	}

	target := c.opts.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, transportError("failed to build request", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.roundTrip(httpReq)
}

func (c *Client) roundTrip(httpReq *http.Request) (*Response, error) {
	res, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(httpReq.Method, 0)
		return nil, transportError(fmt.Sprintf("%s %s failed", httpReq.Method, httpReq.URL.Path), err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		c.metrics.ObserveRequest(httpReq.Method, res.StatusCode)
		return nil, transportError("failed to read response body", err)
	}
	c.metrics.ObserveRequest(httpReq.Method, res.StatusCode)
	c.log.Debug("request done",
		zap.String("method", httpReq.Method),
		zap.String("path", httpReq.URL.Path),
		zap.Int("status", res.StatusCode))

	return &Response{Status: res.StatusCode, Body: data}, nil
}

// postPublic sends an unauthenticated POST (login, register, refresh).
func (c *Client) postPublic(ctx context.Context, path string, body io.Reader, contentType string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, body)
	if err != nil {
		return nil, transportError("failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	return c.roundTrip(httpReq)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// checkStatus passes 2xx responses through and turns the rest into kind
// errors carrying the server's detail.
func checkStatus(resp *Response, kind Kind) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	var body errorBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &Error{Kind: KindData, Status: resp.Status, Message: "malformed error body", Cause: err}
	}
	if body.Detail == "" {
		body.Detail = http.StatusText(resp.Status)
	}
	return nil, &Error{Kind: kind, Status: resp.Status, Message: body.Detail}
}

// setSession replaces the token pair (and user, when given) and persists
// both before returning, so no request can observe a half-updated pair.
func (c *Client) setSession(tokens TokenPair, u *user.User) error {
	c.mu.Lock()
	c.tokens = &tokens
	if u != nil {
		c.user = u
	}
	c.mu.Unlock()

	if err := c.store.Save(tokens); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	if u != nil {
		if err := c.store.SaveUser(*u); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
	}
	return nil
}

// deauthenticate clears the session, closes the stream and erases the
// stored credentials.
func (c *Client) deauthenticate() {
	c.mu.Lock()
	c.tokens = nil
	c.user = nil
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	if s != nil {
		s.close()
	}
	if err := c.store.Delete(); err != nil {
		c.log.Error("failed to erase credentials", zap.Error(err))
	}
	c.log.Info("session de-authenticated")
}
