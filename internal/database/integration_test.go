package database

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

// startPostgres runs a disposable PostgreSQL container and returns its URL.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("convpipe"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pgContainer.Terminate(terminateCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestGateway_InsertThenFetch(t *testing.T) {
	ctx := context.Background()
	url := startPostgres(ctx, t)

	gw, err := Connect(ctx, Options{URL: url, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer gw.Close(ctx)

	require.NoError(t, gw.EnsureSchema(ctx, "processed_data"))
	require.NoError(t, gw.EnsureSchema(ctx, "processed_data"), "schema creation must be idempotent")

	id, err := gw.Insert(ctx, "processed_data", map[string]any{
		"ip_address":             "1.1.1.1",
		"marketing_channel":      "ads",
		"purchase":               100.0,
		"state":                  "New York",
		"time_spent_seconds":     int64(120),
		"converted":              int64(1),
		"state_abbreviation":     "NY",
		"purchase_normalized":    nil,
		"percentile_85_state":    int64(1),
		"percentile_85_national": int64(1),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	rows, err := gw.Fetch(ctx, "SELECT * FROM processed_data")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.NotNil(t, row["id"])
	assert.EqualValues(t, id, row["id"])
	assert.Equal(t, "1.1.1.1", row["ip_address"])
	assert.Equal(t, "New York", row["state"])
	assert.Equal(t, 100.0, row["purchase"])
	assert.Nil(t, row["purchase_normalized"])

	records, err := gw.ListRecords(ctx, "processed_data")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	require.NotNil(t, records[0].TimeSpentSeconds)
	assert.Equal(t, int64(120), *records[0].TimeSpentSeconds)

	require.NoError(t, gw.Delete(ctx, "processed_data", id))
	assert.ErrorIs(t, gw.Delete(ctx, "processed_data", id), ErrNotFound)

	_, err = gw.Insert(ctx, "processed_data", map[string]any{"ip_address": "1.1.1.1"})
	assert.ErrorIs(t, err, ErrConstraint, "NOT NULL violation is an integrity error")
}
