package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-pusher-service/internal/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// Dispatcher runs a batch dispatch and reports the aggregated outcome.
type Dispatcher interface {
	SendBatch(ctx context.Context, deviceIDs []string, payload []byte) *dispatch.BatchReport
}

// NewProcessor creates the logic that hands a decoded notification request to
// the batch dispatcher. Per-device failures are already absorbed into the
// batch report, so the only retryable condition is a payload we cannot
// serialize, which never is; everything else Acks.
func NewProcessor(
	dispatcher Dispatcher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[pusher.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *pusher.NotificationRequest) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		if len(request.DeviceIDs) == 0 {
			procLogger.Info("No device ids in notification request; dropping.")
			return nil
		}

		payload, err := json.Marshal(request.Payload)
		if err != nil {
			procLogger.Error("Failed to serialize notification payload", "err", err)
			return err
		}

		report := dispatcher.SendBatch(ctx, request.DeviceIDs, payload)
		procLogger.Info("Batch dispatched",
			"total", report.Summary.Total,
			"successful", report.Summary.Successful,
			"failed", report.Summary.Failed,
		)
		return nil
	}
}
