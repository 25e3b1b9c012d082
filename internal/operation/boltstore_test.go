package operation

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operations.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStore_CreateAndGet(t *testing.T) {
	store := newTestBoltStore(t)

	op, err := store.Create("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, "https://example.com", op.URL)
	assert.NotEmpty(t, op.ID)

	fetched, err := store.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, fetched.ID)
	assert.Equal(t, op.URL, fetched.URL)
}

func TestBoltStore_GetUnknownID(t *testing.T) {
	store := newTestBoltStore(t)

	_, err := store.Get("does-not-exist")
	assert.Error(t, err)
}

func TestBoltStore_LifecycleTransitions(t *testing.T) {
	store := newTestBoltStore(t)

	op, err := store.Create("https://example.com")
	require.NoError(t, err)

	require.NoError(t, store.MarkRunning(op.ID))
	running, err := store.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)

	artefacts := []Artefact{{Name: "har", SignedURL: "https://signed/capture.har"}}
	require.NoError(t, store.MarkComplete(op.ID, 250*time.Millisecond, false, artefacts))

	complete, err := store.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, complete.Status)
	assert.Equal(t, 250*time.Millisecond, complete.TTFB)
	assert.False(t, complete.TimedOut)
	assert.Equal(t, artefacts, complete.Artefacts)
	assert.True(t, complete.UpdatedAt.After(op.UpdatedAt) || complete.UpdatedAt.Equal(op.UpdatedAt))
}

func TestBoltStore_MarkFailedRecordsError(t *testing.T) {
	store := newTestBoltStore(t)

	op, err := store.Create("https://example.com")
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(op.ID, errors.New("navigation timed out")))

	failed, err := store.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "navigation timed out", failed.Error)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operations.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	op, err := store.Create("https://example.com")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	fetched, err := reopened.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, fetched.ID)
}

func TestBoltStore_UpdateUnknownIDErrors(t *testing.T) {
	store := newTestBoltStore(t)

	assert.Error(t, store.MarkRunning("does-not-exist"))
	assert.Error(t, store.MarkFailed("does-not-exist", errors.New("boom")))
}
