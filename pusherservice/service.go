package pusherservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-pusher-service/internal/api"
	"github.com/tinywideclouds/go-pusher-service/internal/dispatch"
	"github.com/tinywideclouds/go-pusher-service/internal/pipeline"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
	"github.com/tinywideclouds/go-pusher-service/pusherservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pusher.NotificationRequest]
	store           pusher.SubscriptionStore
	events          pusher.EventSink
	sweepInterval   time.Duration
	sweepStop       chan struct{}
	sweepDone       sync.WaitGroup
	logger          *slog.Logger
}

// New assembles the service. The consumer is optional: without one the
// service runs as a plain HTTP API.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	store pusher.SubscriptionStore,
	logs api.LogQuerier,
	events pusher.EventSink,
	engine *dispatch.Engine,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var streamingService *messagepipeline.StreamingService[pusher.NotificationRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(engine, logger)
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.NotificationRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	pusherAPI := api.NewPusherAPI(store, engine, logs, events, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/pusher/subscribe", pusherAPI.Subscribe)
	handle("POST /api/v1/pusher/unsubscribe", pusherAPI.Unsubscribe)
	handle("POST /api/v1/pusher/notify", pusherAPI.Notify)
	handle("GET /api/v1/logs", pusherAPI.QueryLogs)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		store:           store,
		events:          events,
		sweepInterval:   cfg.ExpirySweepInterval,
		sweepStop:       make(chan struct{}),
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}

	w.startSweeper()

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error

	close(w.sweepStop)
	w.sweepDone.Wait()

	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

// startSweeper runs the periodic expired-subscription purge until Shutdown.
func (w *Wrapper) startSweeper() {
	w.sweepDone.Add(1)
	go func() {
		defer w.sweepDone.Done()
		ticker := time.NewTicker(w.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.sweepStop:
				return
			case <-ticker.C:
				w.sweepExpired()
			}
		}
	}()
}

func (w *Wrapper) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.store.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		w.logger.Error("Expired subscription sweep failed.", "err", err)
		return
	}
	if count > 0 {
		w.events.Emit(ctx, slog.LevelInfo,
			fmt.Sprintf("Removed %d expired subscriptions", count), "pusher",
			map[string]any{"removed_count": count})
	}
}
