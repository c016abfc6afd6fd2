// Package pipeline contains the message processing components that feed
// Pub/Sub notification requests into the dispatch engine.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// NotificationRequestTransformer unmarshals a raw message payload into a
// structured pusher.NotificationRequest. Malformed payloads are skipped so
// the StreamingService can handle the Nack/DLQ logic.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*pusher.NotificationRequest, bool, error) {
	var req pusher.NotificationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
