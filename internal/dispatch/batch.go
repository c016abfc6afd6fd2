package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// BatchReport is the full outcome of a batch dispatch: the per-device results
// and summary plus the derived status code and message for the caller to
// translate into a transport-level response.
type BatchReport struct {
	pusher.BatchResponse
	StatusCode int
	Message    string
}

// SendBatch dispatches the payload to every device concurrently and waits for
// all of them; partial failure is an expected, first-class outcome, never an
// abort condition. Per-device dispatches are detached from the caller's
// cancellation so that an in-flight send still completes and persists its
// cleanup, avoiding duplicate delivery and dangling invalidations.
func (e *Engine) SendBatch(ctx context.Context, deviceIDs []string, payload []byte) *BatchReport {
	batchID := uuid.NewString()
	e.events.Emit(ctx, slog.LevelInfo,
		fmt.Sprintf("Processing batch notification for %d devices", len(deviceIDs)), "pusher",
		map[string]any{"batch_id": batchID, "device_count": len(deviceIDs)})

	agg := NewAggregator()
	sendCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, deviceID := range deviceIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Add(e.SendToDevice(sendCtx, deviceID, payload))
		}()
	}
	wg.Wait()

	summary := agg.Summary()
	statusCode, message := StatusFor(summary)

	e.events.Emit(sendCtx, slog.LevelInfo,
		fmt.Sprintf("Batch notification completed: %d successful, %d failed", summary.Successful, summary.Failed), "pusher",
		map[string]any{
			"batch_id":         batchID,
			"total_devices":    summary.Total,
			"successful_count": summary.Successful,
			"failed_count":     summary.Failed,
		})

	return &BatchReport{
		BatchResponse: agg.Response(),
		StatusCode:    statusCode,
		Message:       message,
	}
}
