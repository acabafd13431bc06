package storage

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndOpen(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("statement_alice_2025-03.csv", []byte("header\nrow\n"))
	require.NoError(t, err)

	file, err := store.Open(name)
	require.NoError(t, err)
	defer file.Close()

	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "header\nrow\n", string(content))
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("old.csv", []byte("old"))
	require.NoError(t, err)
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path("old.csv"), stale, stale))

	_, err = store.Save("fresh.csv", []byte("fresh"))
	require.NoError(t, err)

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.csv"}, deleted)

	_, err = os.Stat(store.Path("fresh.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(store.Path("old.csv"))
	assert.True(t, os.IsNotExist(err))
}
