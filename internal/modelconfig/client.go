// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package modelconfig looks up which model the backend has configured for
// the signed-in user.
package modelconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes lookup failures for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnauthorized
	ErrTypeTimeout
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// ClientError is returned by Client operations.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches on error type so callers can compare with the sentinels.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// Sentinel errors for errors.Is checks.
var (
	ErrUnauthorized = &ClientError{Type: ErrTypeUnauthorized}
	ErrTimeout      = &ClientError{Type: ErrTypeTimeout}
	ErrConnection   = &ClientError{Type: ErrTypeConnection}
	ErrInvalid      = &ClientError{Type: ErrTypeInvalidResponse}
)

// =============================================================================
// TYPES
// =============================================================================

// Info is the backend's model configuration for the user.
type Info struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Message  string `json:"message,omitempty"`
}

// Configured reports whether both provider and model are set.
func (i Info) Configured() bool {
	return strings.TrimSpace(i.Provider) != "" && strings.TrimSpace(i.Model) != ""
}

// String renders "provider/model", or "not configured".
func (i Info) String() string {
	if !i.Configured() {
		return "not configured"
	}
	return i.Provider + "/" + i.Model
}

// Source yields the current model configuration.
type Source interface {
	Fetch(ctx context.Context) (Info, error)
}

// Static is a Source that always returns the same Info.
type Static Info

// Fetch implements Source.
func (s Static) Fetch(context.Context) (Info, error) {
	return Info(s), nil
}

// =============================================================================
// CLIENT
// =============================================================================

const defaultTimeout = 10 * time.Second

// Client queries the backend's REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL (e.g.
// http://localhost:8000) authenticating with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Fetch calls GET /api/model-config with the token cookie.
func (c *Client) Fetch(ctx context.Context) (Info, error) {
	var info Info
	if c.token == "" {
		return info, &ClientError{Type: ErrTypeUnauthorized, Message: "no token provided"}
	}
	if err := c.getJSON(ctx, "/api/model-config", &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Ping calls GET /api/ping and returns the server's message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "/api/ping", &body); err != nil {
		return "", err
	}
	return body.Message, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: "token", Value: c.token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
		}
		return &ClientError{Type: ErrTypeConnection, Message: "backend unreachable", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		typ := ErrTypeInvalidResponse
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			typ = ErrTypeUnauthorized
		}
		return &ClientError{
			Type:       typ,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("GET %s: %s%s", path, resp.Status, detail(body)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid JSON from " + path, Cause: err}
	}
	return nil
}

// detail extracts the {"detail": "..."} message error responses carry.
func detail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	switch {
	case e.Detail != "":
		return " (" + e.Detail + ")"
	case e.Error != "":
		return " (" + e.Error + ")"
	}
	return ""
}
