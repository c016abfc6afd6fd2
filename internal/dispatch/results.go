package dispatch

import (
	"fmt"
	"sync"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// Aggregator accumulates per-device outcomes from concurrent dispatches and
// derives the batch summary. Aggregation is order-independent.
type Aggregator struct {
	mu      sync.Mutex
	results []pusher.Result
}

func NewAggregator() *Aggregator {
	return &Aggregator{results: make([]pusher.Result, 0)}
}

func (a *Aggregator) Add(result pusher.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

func (a *Aggregator) Summary() pusher.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := pusher.Summary{Total: len(a.results)}
	for _, r := range a.results {
		if r.Success {
			summary.Successful++
		}
	}
	summary.Failed = summary.Total - summary.Successful
	return summary
}

func (a *Aggregator) Response() pusher.BatchResponse {
	a.mu.Lock()
	results := make([]pusher.Result, len(a.results))
	copy(results, a.results)
	a.mu.Unlock()

	return pusher.BatchResponse{Results: results, Summary: a.Summary()}
}

// StatusFor derives the overall status code and message for a batch. The
// branches are checked in strict priority order: an empty batch has zero
// successes and therefore reports total failure.
func StatusFor(summary pusher.Summary) (int, string) {
	switch {
	case summary.Successful == 0:
		return 500, "All notifications failed"
	case summary.Failed == 0:
		return 200, "All notifications sent successfully"
	default:
		return 207, fmt.Sprintf("%d notifications sent, %d failed", summary.Successful, summary.Failed)
	}
}
