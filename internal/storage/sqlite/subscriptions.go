package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

const subscriptionColumns = "endpoint, keys, device_id, expiration_time, metadata, created_at"

// Upsert inserts or replaces by endpoint. The single-writer connection plus
// SQLite's ON CONFLICT clause make the replace atomic per endpoint; the
// original created_at survives a re-subscription.
func (s *Store) Upsert(ctx context.Context, sub pusher.Subscription) (pusher.Subscription, error) {
	if err := pusher.ValidateKeys(sub.Keys); err != nil {
		return pusher.Subscription{}, err
	}

	keysJSON, err := json.Marshal(sub.Keys)
	if err != nil {
		return pusher.Subscription{}, fmt.Errorf("failed to marshal keys: %w", err)
	}
	metadataJSON, err := marshalMetadata(sub.Metadata)
	if err != nil {
		return pusher.Subscription{}, err
	}

	var expiration any
	if sub.ExpirationTime != nil {
		expiration = sub.ExpirationTime.UnixMilli()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			keys = excluded.keys,
			device_id = excluded.device_id,
			expiration_time = excluded.expiration_time,
			metadata = excluded.metadata
		RETURNING `+subscriptionColumns,
		sub.Endpoint, string(keysJSON), sub.DeviceID, expiration, metadataJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
	)

	stored, err := scanSubscription(row)
	if err != nil {
		return pusher.Subscription{}, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return stored, nil
}

// FindByDevice returns at most one record per device, by convention of this
// system; nil means the device has no subscription.
func (s *Store) FindByDevice(ctx context.Context, deviceID string) (*pusher.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE device_id = ? LIMIT 1", deviceID)

	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}
	return &sub, nil
}

// DeleteByDevices removes every row belonging to the given device ids and
// returns the removed records.
func (s *Store) DeleteByDevices(ctx context.Context, deviceIDs []string) ([]pusher.Subscription, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(deviceIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(deviceIDs))
	for i, id := range deviceIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"DELETE FROM subscriptions WHERE device_id IN ("+placeholders+") RETURNING "+subscriptionColumns, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var removed []pusher.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan removed subscription: %w", err)
		}
		removed = append(removed, sub)
	}
	return removed, rows.Err()
}

func (s *Store) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE endpoint = ?", endpoint)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription by endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE expiration_time IS NOT NULL AND expiration_time < ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (pusher.Subscription, error) {
	var (
		sub        pusher.Subscription
		keysJSON   string
		expiration sql.NullInt64
		metadata   sql.NullString
		createdAt  string
	)
	if err := row.Scan(&sub.Endpoint, &keysJSON, &sub.DeviceID, &expiration, &metadata, &createdAt); err != nil {
		return pusher.Subscription{}, err
	}

	if err := json.Unmarshal([]byte(keysJSON), &sub.Keys); err != nil {
		return pusher.Subscription{}, fmt.Errorf("corrupt keys column: %w", err)
	}
	if expiration.Valid {
		t := time.UnixMilli(expiration.Int64).UTC()
		sub.ExpirationTime = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sub.Metadata); err != nil {
			return pusher.Subscription{}, fmt.Errorf("corrupt metadata column: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sub.CreatedAt = t
	}
	return sub, nil
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if metadata == nil {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}
