package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-pusher-service/internal/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upsert(ctx context.Context, sub pusher.Subscription) (pusher.Subscription, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(pusher.Subscription), args.Error(1)
}

func (m *mockStore) FindByDevice(ctx context.Context, deviceID string) (*pusher.Subscription, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pusher.Subscription), args.Error(1)
}

func (m *mockStore) DeleteByDevices(ctx context.Context, deviceIDs []string) ([]pusher.Subscription, error) {
	args := m.Called(ctx, deviceIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pusher.Subscription), args.Error(1)
}

func (m *mockStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	args := m.Called(ctx, endpoint)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, sub pusher.Subscription, payload []byte) error {
	return m.Called(ctx, sub, payload).Error(0)
}

// nopSink satisfies pusher.EventSink without recording anything.
type nopSink struct{}

func (nopSink) Emit(_ context.Context, _ slog.Level, _, _ string, _ map[string]any) {}

func newEngine(store *mockStore, sender *mockSender) *dispatch.Engine {
	return dispatch.NewEngine(store, sender, nopSink{}, newTestLogger())
}

func validSubscription(deviceID string) *pusher.Subscription {
	return &pusher.Subscription{
		Endpoint: "https://push.example.com/send/" + deviceID,
		Keys:     pusher.Keys{P256dh: "p", Auth: "a"},
		DeviceID: deviceID,
	}
}

func TestSendToDevice(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"title":"hi"}`)

	t.Run("Missing Subscription Fails Without Mutation", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		store.On("FindByDevice", mock.Anything, "ghost").Return(nil, nil)

		result := newEngine(store, sender).SendToDevice(ctx, "ghost", payload)

		assert.False(t, result.Success)
		assert.Equal(t, "Subscription not found", result.Error)
		store.AssertNotCalled(t, "DeleteByDevices", mock.Anything, mock.Anything)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Expired Subscription Is Removed", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)

		past := time.Now().Add(-time.Hour)
		sub := validSubscription("d-1")
		sub.ExpirationTime = &past

		store.On("FindByDevice", mock.Anything, "d-1").Return(sub, nil)
		store.On("DeleteByDevices", mock.Anything, []string{"d-1"}).Return([]pusher.Subscription{*sub}, nil)

		result := newEngine(store, sender).SendToDevice(ctx, "d-1", payload)

		assert.False(t, result.Success)
		assert.Equal(t, "Subscription expired (removed)", result.Error)
		store.AssertExpectations(t)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Successful Send", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		sub := validSubscription("d-2")

		store.On("FindByDevice", mock.Anything, "d-2").Return(sub, nil)
		sender.On("Send", mock.Anything, *sub, payload).Return(nil)

		result := newEngine(store, sender).SendToDevice(ctx, "d-2", payload)

		assert.True(t, result.Success)
		assert.Empty(t, result.Error)
	})

	t.Run("Gone Endpoint Triggers Cleanup By Endpoint", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		sub := validSubscription("d-3")

		store.On("FindByDevice", mock.Anything, "d-3").Return(sub, nil)
		sender.On("Send", mock.Anything, *sub, payload).
			Return(&pusher.PushError{Kind: pusher.PushGone, StatusCode: 410})
		store.On("DeleteByEndpoint", mock.Anything, sub.Endpoint).Return(true, nil)

		result := newEngine(store, sender).SendToDevice(ctx, "d-3", payload)

		assert.False(t, result.Success)
		assert.Equal(t, "Subscription expired or invalid (removed)", result.Error)
		store.AssertExpectations(t)
	})

	t.Run("Not Found Endpoint Triggers Cleanup By Endpoint", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		sub := validSubscription("d-4")

		store.On("FindByDevice", mock.Anything, "d-4").Return(sub, nil)
		sender.On("Send", mock.Anything, *sub, payload).
			Return(&pusher.PushError{Kind: pusher.PushNotFound, StatusCode: 404})
		store.On("DeleteByEndpoint", mock.Anything, sub.Endpoint).Return(true, nil)

		result := newEngine(store, sender).SendToDevice(ctx, "d-4", payload)

		assert.Equal(t, "Subscription expired or invalid (removed)", result.Error)
		store.AssertExpectations(t)
	})

	t.Run("Transient Failure Leaves Subscription Intact", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		sub := validSubscription("d-5")

		store.On("FindByDevice", mock.Anything, "d-5").Return(sub, nil)
		sender.On("Send", mock.Anything, *sub, payload).
			Return(&pusher.PushError{Kind: pusher.PushTransient, StatusCode: 500})

		engine := newEngine(store, sender)
		result := engine.SendToDevice(ctx, "d-5", payload)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "Web push failed:")
		store.AssertNotCalled(t, "DeleteByEndpoint", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "DeleteByDevices", mock.Anything, mock.Anything)

		// Re-dispatch hits the transport again with the same subscription.
		result = engine.SendToDevice(ctx, "d-5", payload)
		assert.False(t, result.Success)
		sender.AssertNumberOfCalls(t, "Send", 2)
	})

	t.Run("Cleanup Failure Does Not Mask Outcome", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		sub := validSubscription("d-6")

		store.On("FindByDevice", mock.Anything, "d-6").Return(sub, nil)
		sender.On("Send", mock.Anything, *sub, payload).
			Return(&pusher.PushError{Kind: pusher.PushGone, StatusCode: 410})
		store.On("DeleteByEndpoint", mock.Anything, sub.Endpoint).Return(false, errors.New("db locked"))

		result := newEngine(store, sender).SendToDevice(ctx, "d-6", payload)

		assert.Equal(t, "Subscription expired or invalid (removed)", result.Error)
	})

	t.Run("Lookup Failure Is Contained", func(t *testing.T) {
		store := new(mockStore)
		sender := new(mockSender)
		store.On("FindByDevice", mock.Anything, "d-7").Return(nil, errors.New("connection reset"))

		result := newEngine(store, sender).SendToDevice(ctx, "d-7", payload)

		require.False(t, result.Success)
		assert.Contains(t, result.Error, "Web push failed: connection reset")
	})
}
