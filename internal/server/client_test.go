package server

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/rankvisor/internal/supervisor"
)

func TestClientStatusAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := fakeSource{running: true, status: supervisor.Status{Running: true, ChildPID: 7, Spawns: 2, CommandSync: "skipped"}}
	ts := httptest.NewServer(NewRouter(src, nil, nil, "").Handler())
	defer ts.Close()

	c, err := NewClient(ClientConfig{BaseURL: ts.URL + "/"})
	require.NoError(t, err)
	assert.True(t, c.IsHealthy(context.Background()))

	r, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, r.Supervisor.ChildPID)
	assert.Equal(t, 2, r.Supervisor.Spawns)
	assert.Equal(t, "skipped", r.Supervisor.CommandSync)
	assert.Nil(t, r.Child)
}

func TestClientStoppedSupervisor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(NewRouter(fakeSource{}, nil, nil, "").Handler())
	defer ts.Close()

	c, err := NewClient(ClientConfig{BaseURL: ts.URL})
	require.NoError(t, err)
	assert.False(t, c.IsHealthy(context.Background()))
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	c, err := NewClient(ClientConfig{BaseURL: url})
	require.NoError(t, err)
	assert.False(t, c.IsHealthy(context.Background()))
	_, err = c.Status(context.Background())
	require.Error(t, err)
}

func TestClientTLSWithPrivateCA(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewTLSServer(NewRouter(fakeSource{running: true}, nil, nil, "").Handler())
	defer ts.Close()

	_, err := NewClient(ClientConfig{BaseURL: ts.URL, CACert: filepath.Join(t.TempDir(), "missing.pem")})
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = NewClient(ClientConfig{BaseURL: ts.URL, CACert: bad})
	require.Error(t, err)

	c, err := NewClient(ClientConfig{BaseURL: ts.URL, Insecure: true})
	require.NoError(t, err)
	assert.True(t, c.IsHealthy(context.Background()))
}
