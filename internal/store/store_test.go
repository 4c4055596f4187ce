package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"signpad-agent/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "signpad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.InitSchema(context.Background()))

	return store
}

func TestIdentityValues_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "device_name")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "device_name", "KIOSK-AB12"))

	value, err := store.Get(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "KIOSK-AB12", value)

	// Upsert replaces the stored value.
	require.NoError(t, store.Set(ctx, "device_name", "KIOSK-CD34"))
	value, err = store.Get(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "KIOSK-CD34", value)
}

func TestIdentityValues_DeleteAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "device_name", "KIOSK-AB12"))
	require.NoError(t, store.Set(ctx, "device_mac_address", "02:11:22:33:44:55"))

	require.NoError(t, store.Delete(ctx, "device_name"))
	_, err := store.Get(ctx, "device_name")
	assert.ErrorIs(t, err, ErrNotFound)

	value, err := store.Get(ctx, "device_mac_address")
	require.NoError(t, err)
	assert.Equal(t, "02:11:22:33:44:55", value)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Get(ctx, "device_mac_address")
	assert.ErrorIs(t, err, ErrNotFound)
}

func historyEntry(id string, completed bool) *domain.HistoryEntry {
	entry := &domain.HistoryEntry{
		Request: domain.SignatureRequest{
			RequestID:     id,
			PatronID:      "patron-1",
			PatronName:    "Alex Reader",
			DocumentType:  "membership_agreement",
			Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
			ExpiryMinutes: 5,
		},
		Completed: completed,
	}
	if completed {
		entry.CompletedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	return entry
}

func TestHistory_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, historyEntry("req-1", true), 10))
	require.NoError(t, store.Append(ctx, historyEntry("req-2", false), 10))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, "req-2", entries[0].Request.RequestID)
	assert.False(t, entries[0].Completed)
	assert.Equal(t, "req-1", entries[1].Request.RequestID)
	assert.True(t, entries[1].Completed)
	assert.False(t, entries[1].CompletedAt.IsZero())
	assert.Equal(t, 5, entries[1].Request.ExpiryMinutes)
}

func TestHistory_AppendTrimsToCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		require.NoError(t, store.Append(ctx, historyEntry(fmt.Sprintf("req-%d", i), true), 5))
	}

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "req-7", entries[0].Request.RequestID)
	assert.Equal(t, "req-3", entries[4].Request.RequestID)
}

func TestHistory_MarkCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, historyEntry("req-1", false), 10))

	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.MarkCompleted(ctx, "req-1", completedAt))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Completed)
	assert.True(t, entries[0].CompletedAt.Equal(completedAt))
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signpad.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.Set(ctx, "device_name", "KIOSK-AB12"))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.InitSchema(ctx))

	value, err := reopened.Get(ctx, "device_name")
	require.NoError(t, err)
	assert.Equal(t, "KIOSK-AB12", value)
}
