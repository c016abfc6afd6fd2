package pusher

import (
	"fmt"
	"net/http"
)

// ValidationError rejects malformed subscription data before it reaches
// persistence or the transport.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PushErrorKind classifies a transport failure. Gone and NotFound signal
// permanent invalidation: the subscription can never be delivered to again
// and should be purged. Everything else is transient and must not destroy a
// valid subscription.
type PushErrorKind int

const (
	PushTransient PushErrorKind = iota
	PushGone
	PushNotFound
)

// PushError is the classified failure reported by the push transport.
type PushError struct {
	Kind       PushErrorKind
	StatusCode int
	Err        error
}

func (e *PushError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("push endpoint returned status %d", e.StatusCode)
	}
	return "push transport failure"
}

func (e *PushError) Unwrap() error { return e.Err }

// Permanent reports whether the subscription should be purged.
func (e *PushError) Permanent() bool {
	return e.Kind == PushGone || e.Kind == PushNotFound
}

// ClassifyPushStatus maps a transport HTTP status code to a PushError kind.
func ClassifyPushStatus(statusCode int) PushErrorKind {
	switch statusCode {
	case http.StatusGone:
		return PushGone
	case http.StatusNotFound:
		return PushNotFound
	default:
		return PushTransient
	}
}
