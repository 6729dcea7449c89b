// Package api talks to the ride backend's REST endpoints for sign-in and
// the wallet. Every failure leaves this package as an errs kind.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/logging"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		logger:  logging.Component(logger, "api"),
	}
}

// errorBody is what the backend returns on failure; older handlers use
// "message" instead of "error".
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorBody) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// do sends body as JSON and decodes a 2xx response into out. A non-empty
// token is sent as a bearer credential.
func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.E(errs.Other, op, fmt.Errorf("encoding request: %w", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return errs.E(errs.Other, op, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger.Warn("backend unreachable", "op", op, "error", err)
		return errs.E(errs.Connection, op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend call", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.E(errs.Connection, op, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return statusError(op, resp.StatusCode, eb.text())
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.E(errs.Other, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func statusError(op string, status int, msg string) error {
	cause := fmt.Errorf("status %d", status)
	if msg != "" {
		cause = fmt.Errorf("status %d: %s", status, msg)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.E(errs.Auth, op, cause)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "request rejected"
		}
		return &errs.Error{Kind: errs.Validation, Op: op, Msg: msg, Err: cause}
	case status >= 500:
		return errs.E(errs.Connection, op, cause)
	default:
		return errs.E(errs.Other, op, cause)
	}
}

var errNoSession = errors.New("no credential")

func requireToken(op, token string) error {
	if token == "" {
		return errs.E(errs.Auth, op, errNoSession)
	}
	return nil
}
