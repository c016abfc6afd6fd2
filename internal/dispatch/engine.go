// Package dispatch contains the per-device dispatch engine and the batch
// coordinator that fans a notification out to many devices concurrently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// Outcome messages surfaced to callers in the per-device result.
const (
	errSubscriptionNotFound = "Subscription not found"
	errSubscriptionExpired  = "Subscription expired (removed)"
	errSubscriptionInvalid  = "Subscription expired or invalid (removed)"
)

// Engine resolves a device to its stored subscription, pushes the payload
// through the transport and reconciles subscription state from the outcome.
// It holds no long-lived subscription references; every dispatch re-reads the
// store.
type Engine struct {
	store  pusher.SubscriptionStore
	sender pusher.Sender
	events pusher.EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store pusher.SubscriptionStore, sender pusher.Sender, events pusher.EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		sender: sender,
		events: events,
		logger: logger.With("component", "DispatchEngine"),
		now:    time.Now,
	}
}

// SendToDevice dispatches one payload to one device. Failures are always
// contained in the returned result; the only side effects are the removal of
// expired or permanently invalidated subscriptions.
func (e *Engine) SendToDevice(ctx context.Context, deviceID string, payload []byte) pusher.Result {
	sub, err := e.store.FindByDevice(ctx, deviceID)
	if err != nil {
		e.events.Emit(ctx, slog.LevelError,
			fmt.Sprintf("Web push failed for device %s: %s", deviceID, err), "pusher",
			map[string]any{"device_id": deviceID, "error_details": err.Error()})
		return pusher.Result{DeviceID: deviceID, Error: fmt.Sprintf("Web push failed: %s", err)}
	}

	if sub == nil {
		e.events.Emit(ctx, slog.LevelWarn,
			fmt.Sprintf("Subscription not found for device %s", deviceID), "pusher",
			map[string]any{"device_id": deviceID})
		return pusher.Result{DeviceID: deviceID, Error: errSubscriptionNotFound}
	}

	if sub.Expired(e.now()) {
		e.removeByDevice(ctx, deviceID)
		e.events.Emit(ctx, slog.LevelInfo,
			fmt.Sprintf("Removed expired subscription for device %s", deviceID), "pusher",
			map[string]any{"device_id": deviceID, "endpoint": sub.Endpoint})
		return pusher.Result{DeviceID: deviceID, Error: errSubscriptionExpired}
	}

	if err := e.sender.Send(ctx, *sub, payload); err != nil {
		var pushErr *pusher.PushError
		if errors.As(err, &pushErr) && pushErr.Permanent() {
			e.removeByEndpoint(ctx, sub.Endpoint)
			e.events.Emit(ctx, slog.LevelInfo,
				fmt.Sprintf("Removed invalid subscription for device %s", deviceID), "pusher",
				map[string]any{"device_id": deviceID, "endpoint": sub.Endpoint, "status_code": pushErr.StatusCode})
			return pusher.Result{DeviceID: deviceID, Error: errSubscriptionInvalid}
		}

		e.events.Emit(ctx, slog.LevelError,
			fmt.Sprintf("Web push failed for device %s: %s", deviceID, err), "pusher",
			map[string]any{"device_id": deviceID, "error_details": err.Error()})
		return pusher.Result{DeviceID: deviceID, Error: fmt.Sprintf("Web push failed: %s", err)}
	}

	return pusher.Result{DeviceID: deviceID, Success: true}
}

// removeByDevice is best-effort cleanup: a storage error must not mask the
// primary outcome of the dispatch.
func (e *Engine) removeByDevice(ctx context.Context, deviceID string) {
	if _, err := e.store.DeleteByDevices(ctx, []string{deviceID}); err != nil {
		e.logger.Warn("Failed to delete expired subscription", "device_id", deviceID, "err", err)
	}
}

func (e *Engine) removeByEndpoint(ctx context.Context, endpoint string) {
	if _, err := e.store.DeleteByEndpoint(ctx, endpoint); err != nil {
		e.logger.Warn("Failed to delete invalid subscription", "endpoint", endpoint, "err", err)
	}
}
