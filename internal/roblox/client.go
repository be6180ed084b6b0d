// Package roblox is a small cookie-authenticated client for the Roblox
// users and groups web APIs.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotFound is returned when a user lookup matches nothing.
	ErrNotFound = errors.New("roblox: not found")
	// ErrUnauthorized means the .ROBLOSECURITY cookie was rejected.
	ErrUnauthorized = errors.New("roblox: unauthorized")
)

const (
	DefaultUsersURL  = "https://users.roblox.com"
	DefaultGroupsURL = "https://groups.roblox.com"

	csrfHeader = "X-CSRF-TOKEN"
)

// StatusError carries a non-success HTTP response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("roblox: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	Cookie    string
	UsersURL  string
	GroupsURL string
	Timeout   time.Duration
	// Retry is the policy for idempotent reads. Nil uses three attempts two
	// seconds apart.
	Retry func() backoff.BackOff
	HTTP  *http.Client
}

// Client talks to the Roblox web API.
type Client struct {
	http      *http.Client
	cookie    string
	usersURL  string
	groupsURL string
	retry     func() backoff.BackOff

	mu   sync.Mutex
	csrf string
}

func New(o Options) *Client {
	hc := o.HTTP
	if hc == nil {
		t := o.Timeout
		if t <= 0 {
			t = 10 * time.Second
		}
		hc = &http.Client{Timeout: t}
	}
	retry := o.Retry
	if retry == nil {
		retry = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
		}
	}
	return &Client{
		http:      hc,
		cookie:    o.Cookie,
		usersURL:  strings.TrimRight(valOr(o.UsersURL, DefaultUsersURL), "/"),
		groupsURL: strings.TrimRight(valOr(o.GroupsURL, DefaultGroupsURL), "/"),
		retry:     retry,
	}
}

func valOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// do sends one request and decodes a JSON response into out. A 403 carrying a
// fresh CSRF token is retried once with that token.
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cookie != "" {
			req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
		}
		if method != http.MethodGet {
			c.mu.Lock()
			if c.csrf != "" {
				req.Header.Set(csrfHeader, c.csrf)
			}
			c.mu.Unlock()
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
		if tok := resp.Header.Get(csrfHeader); resp.StatusCode == http.StatusForbidden && tok != "" && attempt == 0 {
			c.mu.Lock()
			c.csrf = tok
			c.mu.Unlock()
			continue
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode >= 300:
			return &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	}
}

// get retries transient failures according to the client's policy. Auth
// failures and 4xx responses other than 429 are permanent.
func (c *Client) get(ctx context.Context, url string, out any) error {
	op := func() error {
		err := c.do(ctx, http.MethodGet, url, nil, out)
		var se *StatusError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrUnauthorized):
			return backoff.Permanent(err)
		case errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests:
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx))
}
