package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationConfig reads TEST_POSTGRES_* overrides on top of the defaults
func integrationConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT")); err == nil {
		cfg.Port = port
	}
	if user := os.Getenv("TEST_POSTGRES_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("TEST_POSTGRES_DATABASE"); dbname != "" {
		cfg.Database = dbname
	}
	cfg.MaxRetries = 1
	cfg.RetryInterval = 200 * time.Millisecond
	return cfg
}

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "ticket_ledger", cfg.Database)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.Equal(t, int32(5), cfg.MinConns)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestPostgresConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{
			name:     "plain",
			password: "ledgerpass",
			want:     "host=db port=5433 user=ledger password=ledgerpass dbname=ticket_ledger sslmode=require",
		},
		{
			name:     "space is quoted",
			password: "two words",
			want:     "host=db port=5433 user=ledger password='two words' dbname=ticket_ledger sslmode=require",
		},
		{
			name:     "quote and backslash are escaped",
			password: `it's\x`,
			want:     `host=db port=5433 user=ledger password='it\'s\\x' dbname=ticket_ledger sslmode=require`,
		},
		{
			name:     "empty is quoted",
			password: "",
			want:     "host=db port=5433 user=ledger password='' dbname=ticket_ledger sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &PostgresConfig{
				Host:     "db",
				Port:     5433,
				User:     "ledger",
				Password: tt.password,
				Database: "ticket_ledger",
				SSLMode:  "require",
			}
			assert.Equal(t, tt.want, cfg.DSN())
		})
	}
}

func TestNewPostgres_Unreachable(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "invalid",
		Password:       "invalid",
		Database:       "invalid",
		SSLMode:        "disable",
		MaxRetries:     1,
		RetryInterval:  50 * time.Millisecond,
		ConnectTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewPostgres(ctx, cfg)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewPostgres_CanceledDuringRetry(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "invalid",
		Database:       "invalid",
		SSLMode:        "disable",
		MaxRetries:     5,
		RetryInterval:  time.Minute,
		ConnectTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewPostgres(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestPostgresDB_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NotNil(t, db.Pool())
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.HealthCheck(ctx))

	require.NoError(t, db.Exec(ctx, "CREATE TEMP TABLE ledger_probe (seq BIGINT PRIMARY KEY, tx_id TEXT NOT NULL)"))

	// A rolled back transaction leaves nothing behind
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO ledger_probe (seq, tx_id) VALUES ($1, $2)", 1, "rolled-back")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO ledger_probe (seq, tx_id) VALUES ($1, $2)", 1, "committed")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var txID string
	require.NoError(t, db.QueryRow(ctx, "SELECT tx_id FROM ledger_probe WHERE seq = $1", 1).Scan(&txID))
	assert.Equal(t, "committed", txID)
}

func TestPostgresDB_Close_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)

	db.Close()
	assert.Error(t, db.Ping(ctx))
}
