package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Options{
		Cookie:    "cookie-value",
		UsersURL:  srv.URL,
		GroupsURL: srv.URL + "/",
		Retry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
		},
	})
}

func TestUserByUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/usernames/users", r.URL.Path)
		var body struct {
			Usernames []string `json:"usernames"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Usernames[0] == "ghost" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":77,"name":"Builder","displayName":"Bob"}]}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)

	u, err := c.UserByUsername(context.Background(), "  builder ")
	require.NoError(t, err)
	assert.Equal(t, int64(77), u.ID)
	assert.Equal(t, "Bob", u.DisplayName)

	_, err = c.UserByUsername(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.UserByUsername(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCookieAndGroupEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(".ROBLOSECURITY")
		if err != nil || ck.Value != "cookie-value" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/users/authenticated":
			_, _ = w.Write([]byte(`{"id":1,"name":"rankbot","displayName":"rankbot"}`))
		case "/v1/users/77":
			_, _ = w.Write([]byte(`{"id":77,"name":"Builder","displayName":"Bob","description":"code ABC123","created":"2019-03-01T10:00:00.000Z"}`))
		case "/v2/users/77/groups/roles":
			_, _ = w.Write([]byte(`{"data":[{"group":{"id":5,"name":"Army"},"role":{"id":50,"name":"Private","rank":2}}]}`))
		case "/v1/groups/5/roles":
			_, _ = w.Write([]byte(`{"groupId":5,"roles":[{"id":10,"name":"Guest","rank":0},{"id":50,"name":"Private","rank":2}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)
	ctx := context.Background()

	me, err := c.AuthenticatedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rankbot", me.Name)

	u, err := c.User(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "code ABC123", u.Description)
	assert.Equal(t, 2019, u.Created.Year())

	ms, err := c.UserGroupRoles(ctx, 77)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, int64(5), ms[0].Group.ID)
	assert.Equal(t, 2, ms[0].Role.Rank)

	roles, err := c.GroupRoles(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	_, err = c.User(ctx, 404)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).AuthenticatedUser(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"name":"rankbot"}`))
	}))
	defer srv.Close()

	u, err := newTestClient(srv).AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSetRankCSRFChallenge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/v1/groups/5/users/77", r.URL.Path)
		if r.Header.Get("X-CSRF-TOKEN") != "tok" {
			w.Header().Set("X-CSRF-TOKEN", "tok")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]int64
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, int64(50), body["roleId"])
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)

	require.NoError(t, c.SetRank(context.Background(), 5, 77, 50))
	assert.Equal(t, int32(2), calls.Load())

	// token is cached for later writes
	require.NoError(t, c.SetRank(context.Background(), 5, 77, 50))
	assert.Equal(t, int32(3), calls.Load())
}
