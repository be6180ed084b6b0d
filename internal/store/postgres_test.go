package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("bot"),
		postgres.WithUsername("bot"),
		postgres.WithPassword("bot"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, "postgres", db.Dialect())
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureSchema(ctx), "schema creation is repeatable")

	require.NoError(t, db.SetPending(ctx, Pending{UserID: "1", RobloxUserID: 9, RobloxUsername: "u", Code: "ABCDEF", ExpiresAt: time.Now().Add(time.Minute)}))
	p, err := db.GetPending(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", p.Code)

	n, err := db.AddBlacklistedGroup(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ok, err := db.IsGroupBlacklisted(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.SetVerified(ctx, Verified{UserID: "1", RobloxUserID: 9, RobloxUsername: "u"}))
	v, err := db.GetVerified(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.RobloxUserID)
}
