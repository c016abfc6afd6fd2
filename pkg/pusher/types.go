// Package pusher contains the public interfaces and domain models for the
// push dispatch service.
package pusher

import "time"

// Keys holds the cryptographic material of a web push subscription.
// Both fields are base64url encoded at rest: P256dh decodes to the 65-byte
// uncompressed P-256 public key, Auth to the 16-byte auth secret.
type Keys struct {
	P256dh string `json:"p256dh" firestore:"p256dh"`
	Auth   string `json:"auth" firestore:"auth"`
}

// Subscription is one device's push registration. The endpoint is the unique
// identity for transport-level operations; the device id is the logical,
// application-chosen identity and may map to multiple historical endpoints
// across re-subscriptions.
type Subscription struct {
	Endpoint       string         `json:"endpoint" firestore:"endpoint"`
	Keys           Keys           `json:"keys" firestore:"keys"`
	DeviceID       string         `json:"device_id" firestore:"device_id"`
	ExpirationTime *time.Time     `json:"expiration_time,omitempty" firestore:"expiration_time,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at" firestore:"created_at"`
}

// Expired reports whether the subscription carries an expiration time that
// has already passed.
func (s Subscription) Expired(now time.Time) bool {
	return s.ExpirationTime != nil && s.ExpirationTime.Before(now)
}

// Result is the outcome of one device's dispatch within a batch. Error is
// populated only on failure and omitted from the wire on success.
type Result struct {
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates the outcomes of a batch.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResponse is the response payload of a batch dispatch.
type BatchResponse struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// NotificationRequest is the ingest contract for a batch dispatch, shared by
// the HTTP handler and the Pub/Sub pipeline.
type NotificationRequest struct {
	DeviceIDs []string       `json:"device_ids"`
	Payload   map[string]any `json:"payload"`
}

// LogEntry is one persisted structured event.
type LogEntry struct {
	ID        int64          `json:"id,omitempty"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	ClientID  string         `json:"client_id,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogFilter narrows a log query. Zero values mean "no filter"; Limit
// defaults to a store-chosen cap.
type LogFilter struct {
	Level    string
	Source   string
	ClientID string
	Hours    int
	Search   string
	Limit    int
	Offset   int
}
