package pusher

import (
	"context"
	"log/slog"
	"time"
)

// SubscriptionStore is the persistent mapping from device identifiers to push
// subscriptions. Implementations must keep the unique-endpoint invariant
// atomic per endpoint and remain safe under concurrent dispatches.
type SubscriptionStore interface {
	// Upsert inserts or replaces the record identified by the subscription's
	// endpoint (last-write-wins, no merge) and returns the stored record.
	// Malformed key material is rejected with a *ValidationError before
	// anything is persisted.
	Upsert(ctx context.Context, sub Subscription) (Subscription, error)

	// FindByDevice returns the active record for a device, or nil when the
	// device has no subscription. Absence is not an error.
	FindByDevice(ctx context.Context, deviceID string) (*Subscription, error)

	// DeleteByDevices removes every record belonging to the given device ids
	// and returns the removed records, possibly empty.
	DeleteByDevices(ctx context.Context, deviceIDs []string) ([]Subscription, error)

	// DeleteByEndpoint removes the record with the given endpoint, reporting
	// whether one existed.
	DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error)

	// PurgeExpired removes all records whose expiration time is set and
	// before now, returning the number removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Sender delivers one notification payload to one subscription. Failures are
// reported as a *PushError so callers can distinguish permanent invalidation
// from transient trouble.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// EventSink receives structured audit events. It is fire-and-forget: a sink
// that cannot record an event must never fail a dispatch.
type EventSink interface {
	Emit(ctx context.Context, level slog.Level, message, source string, metadata map[string]any)
}
