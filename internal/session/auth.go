package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"termchat/internal/user"
)

// Login posts the credentials as a form. On success the new pair replaces
// any previous one and the message stream is opened. On rejection the
// server's detail is returned and the current session is left alone. If the
// stream cannot be opened the fresh session is dropped again, so a failed
// login never leaves stored credentials behind.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.postPublic(ctx, "/login", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}
	if _, err := checkStatus(resp, KindAuth); err != nil {
		return "", err
	}
	return c.authenticated(ctx, resp, username)
}

// Register creates the account and logs in. Validation failures come back
// as {errors: {field: message}} and are joined one message per line.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(user.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return "", dataError("failed to encode register request", err)
	}

	resp, err := c.postPublic(ctx, "/users", bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", registrationError(resp)
	}
	return c.authenticated(ctx, resp, username)
}

func registrationError(resp *Response) error {
	var body struct {
		Errors map[string]string `json:"errors"`
		Detail string            `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &Error{Kind: KindData, Status: resp.Status, Message: "malformed error body", Cause: err}
	}
	if len(body.Errors) == 0 {
		_, err := checkStatus(resp, KindAuth)
		return err
	}

	fields := make([]string, 0, len(body.Errors))
	for field := range body.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		messages = append(messages, body.Errors[field])
	}
	return &Error{Kind: KindAuth, Status: resp.Status, Message: strings.Join(messages, "\n")}
}

func (c *Client) authenticated(ctx context.Context, resp *Response, username string) (string, error) {
	var res user.AuthResponse
	if err := resp.Decode(&res); err != nil {
		return "", err
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return "", dataError("auth response without tokens", nil)
	}

	u := user.User{ID: res.UserID, Username: username}
	if err := c.setSession(TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, &u); err != nil {
		return "", err
	}
	c.log.Info("authenticated", zap.String("user_id", u.ID), zap.String("username", username))

	if err := c.ConnectMessageStream(ctx); err != nil {
		c.log.Warn("stream unavailable, dropping new session", zap.Error(err))
		c.deauthenticate()
		return "", err
	}
	return u.ID, nil
}

// Refresh trades the refresh token for a new pair and persists it. A 401
// means the refresh token itself expired: the session is dropped and
// ErrUnauthenticated returned. Concurrent callers share one in-flight refresh.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, shared := c.refreshes.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	if shared {
		c.log.Debug("joined in-flight refresh")
	}
	return err
}

func (c *Client) refresh(ctx context.Context) error {
	tokens, ok := c.Tokens()
	if !ok {
		return ErrUnauthenticated
	}

	payload, err := json.Marshal(user.RefreshRequest{RefreshToken: tokens.RefreshToken})
	if err != nil {
		return dataError("failed to encode refresh request", err)
	}

	resp, err := c.postPublic(ctx, "/refresh-token", bytes.NewReader(payload), "application/json")
	if err != nil {
		c.metrics.ObserveRefresh("error")
		return err
	}
	if resp.Status == http.StatusUnauthorized {
		c.metrics.ObserveRefresh("expired")
		c.log.Info("refresh token expired")
		c.deauthenticate()
		return &Error{Kind: KindUnauthenticated, Status: resp.Status, Message: "session expired, please log in again"}
	}
	if _, err := checkStatus(resp, KindRequest); err != nil {
		c.metrics.ObserveRefresh("failed")
		return err
	}

	var res user.AuthResponse
	if err := resp.Decode(&res); err != nil {
		c.metrics.ObserveRefresh("failed")
		return err
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		c.metrics.ObserveRefresh("failed")
		return dataError("refresh response without tokens", nil)
	}
	if err := c.setSession(TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil); err != nil {
		c.metrics.ObserveRefresh("failed")
		return err
	}
	c.metrics.ObserveRefresh("ok")
	return nil
}
