package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/kbimport/internal/config"
)

// TestPostgres needs a scratch database; set TEST_DATABASE_URL to run it.
func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := OpenPostgres(ctx, config.DatabaseConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.pool.Exec(ctx, "TRUNCATE uniprot_entry, uniprot_version, uniprot_import_run")
	require.NoError(t, err)

	assert.Equal(t, config.DriverPostgres, store.Driver())
	exerciseStore(t, store)
}

func TestOpenPostgres_BadURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), config.DatabaseConfig{URL: "::not a url::"})
	assert.Error(t, err)
}
