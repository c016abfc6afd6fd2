package sqlite_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-pusher-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "pusher.db"), newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func validKeys() pusher.Keys {
	return pusher.Keys{
		P256dh: base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x04}, 65)),
		Auth:   base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 16)),
	}
}

func testSubscription(deviceID, endpoint string) pusher.Subscription {
	return pusher.Subscription{
		Endpoint: endpoint,
		Keys:     validKeys(),
		DeviceID: deviceID,
		Metadata: map[string]any{"browser": "firefox"},
	}
}

func TestStore_UpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	t.Run("Insert returns stored record", func(t *testing.T) {
		sub := testSubscription("d-1", "https://push.example.com/ep-1")
		stored, err := store.Upsert(ctx, sub)
		require.NoError(t, err)

		assert.Equal(t, sub.Endpoint, stored.Endpoint)
		assert.Equal(t, sub.Keys, stored.Keys)
		assert.Equal(t, "d-1", stored.DeviceID)
		assert.Equal(t, "firefox", stored.Metadata["browser"])
		assert.False(t, stored.CreatedAt.IsZero())
	})

	t.Run("Duplicate endpoint replaces, does not add a row", func(t *testing.T) {
		replacement := testSubscription("d-2", "https://push.example.com/ep-1")
		replacement.Metadata = map[string]any{"browser": "chrome"}
		stored, err := store.Upsert(ctx, replacement)
		require.NoError(t, err)
		assert.Equal(t, "d-2", stored.DeviceID)
		assert.Equal(t, "chrome", stored.Metadata["browser"])

		// The endpoint moved to d-2; d-1 must no longer resolve.
		old, err := store.FindByDevice(ctx, "d-1")
		require.NoError(t, err)
		assert.Nil(t, old)

		current, err := store.FindByDevice(ctx, "d-2")
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, "https://push.example.com/ep-1", current.Endpoint)

		// Exactly one row: the first delete removes it, the second finds nothing.
		removed, err := store.DeleteByEndpoint(ctx, "https://push.example.com/ep-1")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = store.DeleteByEndpoint(ctx, "https://push.example.com/ep-1")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("Malformed keys rejected before persistence", func(t *testing.T) {
		sub := testSubscription("d-bad", "https://push.example.com/ep-bad")
		sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 12))

		_, err := store.Upsert(ctx, sub)
		var vErr *pusher.ValidationError
		require.ErrorAs(t, err, &vErr)

		found, err := store.FindByDevice(ctx, "d-bad")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestStore_FindByDevice_Absent(t *testing.T) {
	store := openTestStore(t)
	sub, err := store.FindByDevice(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestStore_DeleteByDevices(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// Two historical endpoints share one device id.
	_, err := store.Upsert(ctx, testSubscription("d-multi", "https://push.example.com/old"))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, testSubscription("d-multi", "https://push.example.com/new"))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, testSubscription("d-other", "https://push.example.com/other"))
	require.NoError(t, err)

	t.Run("Removes all rows for the device", func(t *testing.T) {
		removed, err := store.DeleteByDevices(ctx, []string{"d-multi"})
		require.NoError(t, err)
		assert.Len(t, removed, 2)

		found, err := store.FindByDevice(ctx, "d-multi")
		require.NoError(t, err)
		assert.Nil(t, found)

		// Unrelated device untouched.
		other, err := store.FindByDevice(ctx, "d-other")
		require.NoError(t, err)
		assert.NotNil(t, other)
	})

	t.Run("Unknown ids remove nothing", func(t *testing.T) {
		removed, err := store.DeleteByDevices(ctx, []string{"ghost"})
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("Empty input is a no-op", func(t *testing.T) {
		removed, err := store.DeleteByDevices(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, removed)
	})
}

func TestStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := testSubscription("d-expired", "https://push.example.com/expired")
	expired.ExpirationTime = &past
	_, err := store.Upsert(ctx, expired)
	require.NoError(t, err)

	live := testSubscription("d-live", "https://push.example.com/live")
	live.ExpirationTime = &future
	_, err = store.Upsert(ctx, live)
	require.NoError(t, err)

	forever := testSubscription("d-forever", "https://push.example.com/forever")
	_, err = store.Upsert(ctx, forever)
	require.NoError(t, err)

	count, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	gone, err := store.FindByDevice(ctx, "d-expired")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.FindByDevice(ctx, "d-live")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.WithinDuration(t, future, *kept.ExpirationTime, time.Second)
}

func TestStore_Logs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	id, err := store.AppendLog(ctx, pusher.LogEntry{
		Level:    "warn",
		Message:  "Subscription not found for device d-1",
		Source:   "pusher",
		Metadata: map[string]any{"device_id": "d-1"},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = store.AppendLog(ctx, pusher.LogEntry{Level: "info", Message: "Batch notification completed", Source: "pusher"})
	require.NoError(t, err)
	_, err = store.AppendLog(ctx, pusher.LogEntry{Level: "error", Message: "boom", Source: "system"})
	require.NoError(t, err)

	t.Run("Filter by level", func(t *testing.T) {
		entries, err := store.QueryLogs(ctx, pusher.LogFilter{Level: "warn"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "pusher", entries[0].Source)
		assert.Equal(t, "d-1", entries[0].Metadata["device_id"])
	})

	t.Run("Filter by source", func(t *testing.T) {
		entries, err := store.QueryLogs(ctx, pusher.LogFilter{Source: "pusher"})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("Search and limit", func(t *testing.T) {
		entries, err := store.QueryLogs(ctx, pusher.LogFilter{Search: "Batch", Limit: 10})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Message, "Batch notification")
	})

	t.Run("Newest first", func(t *testing.T) {
		entries, err := store.QueryLogs(ctx, pusher.LogFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "boom", entries[0].Message)
	})
}
