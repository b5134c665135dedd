// Package client calls the reqsync REST API. Failures come back as the same
// error sentinels the coordinator uses, so callers branch with errors.Is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/reqsync/coord"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/server"
)

// DefaultTimeout bounds one API call
const DefaultTimeout = 15 * time.Second

// Client is a REST client for one reqsync server
type Client struct {
	base         *url.URL
	http         *http.Client
	maxRedirects int
}

// New creates a client for baseURL (for example http://localhost:8787)
func New(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server URL %q", baseURL)
	}
	if err := validateURL(base); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		base:         base,
		http:         &http.Client{Timeout: timeout},
		maxRedirects: 3,
	}
	c.http.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if req.URL.Host != c.base.Host {
			return errors.Newf("redirect to another host blocked: %s", req.URL.Host)
		}
		return nil
	}
	return c, nil
}

// validateURL accepts absolute http(s) URLs only
func validateURL(u *url.URL) error {
	if !slices.Contains([]string{"http", "https"}, u.Scheme) {
		return errors.WithHint(
			errors.Newf("unsupported scheme %q", u.Scheme),
			"use an http:// or https:// server URL",
		)
	}
	if u.Host == "" {
		return errors.Newf("server URL %q has no host", u.String())
	}
	return nil
}

// WebSocketURL returns the URL of the server's websocket endpoint
func (c *Client) WebSocketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// List returns every requisition
func (c *Client) List(ctx context.Context) ([]*requisition.Record, error) {
	var out []*requisition.Record
	err := c.do(ctx, http.MethodGet, "/api/requisitions", nil, &out)
	return out, err
}

// Get returns one requisition
func (c *Client) Get(ctx context.Context, id string) (*requisition.Record, error) {
	var out requisition.Record
	if err := c.do(ctx, http.MethodGet, recordPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create creates a requisition
func (c *Client) Create(ctx context.Context, id string, fields requisition.Fields) (*requisition.Record, error) {
	body := server.CreateRequest{ID: id, Title: fields.Title, Client: fields.Client, Slots: fields.Slots, Status: fields.Status}
	var out requisition.Record
	if err := c.do(ctx, http.MethodPost, "/api/requisitions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patch applies a sparse field update
func (c *Client) Patch(ctx context.Context, id string, patch requisition.Patch) (*requisition.Record, error) {
	var out requisition.Record
	if err := c.do(ctx, http.MethodPatch, recordPath(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a requisition and returns its normalized id
func (c *Client) Delete(ctx context.Context, id string) (string, error) {
	var out server.DeleteResult
	if err := c.do(ctx, http.MethodDelete, recordPath(id), nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ToggleWorking starts or stops recruiter working id
func (c *Client) ToggleWorking(ctx context.Context, recruiter, id string) (coord.ToggleResult, error) {
	var out coord.ToggleResult
	err := c.do(ctx, http.MethodPost, recordPath(id)+"/working", server.ToggleRequest{Recruiter: recruiter}, &out)
	return out, err
}

// SetEditing marks field of id as being edited by recruiter
func (c *Client) SetEditing(ctx context.Context, id, field, recruiter string) error {
	return c.do(ctx, http.MethodPut, recordPath(id)+"/editing", server.EditingRequest{Field: field, Recruiter: recruiter}, nil)
}

// ClearEditing removes the editing marker on id
func (c *Client) ClearEditing(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, recordPath(id)+"/editing", nil, nil)
}

// Health returns the server's health report. A draining server answers
// with ErrUnavailable and the report is still filled in.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func recordPath(id string) string {
	return "/api/requisitions/" + url.PathEscape(id)
}

// do sends one request. Non-2xx responses become errors carrying the
// server's code, message and hint.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	// path is already escaped
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithHintf(
			errors.Mark(errors.Wrapf(err, "%s %s", method, path), errors.ErrUnavailable),
			"is the server running at %s?", c.base.String(),
		)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp, raw, out)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

func decodeError(resp *http.Response, raw []byte, out interface{}) error {
	var e server.ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil || e.Code == "" {
		// /health answers 503 with a health body rather than an error body
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable && json.Unmarshal(raw, out) == nil {
			return errors.Wrap(errors.ErrUnavailable, "server is not running")
		}
		return errors.Newf("unexpected status %s", resp.Status)
	}
	err := errors.FromCode(e.Code, e.Error)
	if e.Hint != "" {
		err = errors.WithHint(err, e.Hint)
	}
	return err
}
