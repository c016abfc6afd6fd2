package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-pusher-service/internal/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// Dispatcher runs a batch dispatch and reports the aggregated outcome.
type Dispatcher interface {
	SendBatch(ctx context.Context, deviceIDs []string, payload []byte) *dispatch.BatchReport
}

// LogQuerier reads back persisted service events.
type LogQuerier interface {
	QueryLogs(ctx context.Context, filter pusher.LogFilter) ([]pusher.LogEntry, error)
}

type PusherAPI struct {
	Store      pusher.SubscriptionStore
	Dispatcher Dispatcher
	Logs       LogQuerier
	Events     pusher.EventSink
	Logger     *slog.Logger
}

func NewPusherAPI(store pusher.SubscriptionStore, dispatcher Dispatcher, logs LogQuerier, events pusher.EventSink, logger *slog.Logger) *PusherAPI {
	return &PusherAPI{
		Store:      store,
		Dispatcher: dispatcher,
		Logs:       logs,
		Events:     events,
		Logger:     logger,
	}
}

// envelope is the JSON body every successful handler writes.
type envelope struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, statusCode int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
	})
}

// --- Subscribe ---

type SubscribeRequest struct {
	DeviceID     string `json:"device_id"`
	Subscription struct {
		Endpoint       string         `json:"endpoint"`
		Keys           pusher.Keys    `json:"keys"`
		ExpirationTime *int64         `json:"expiration_time"`
		Metadata       map[string]any `json:"metadata"`
	} `json:"subscription"`
}

func (api *PusherAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("Subscribe: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	if req.DeviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device_id")
		return
	}
	if req.Subscription.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing subscription endpoint")
		return
	}
	if err := pusher.ValidateKeys(req.Subscription.Keys); err != nil {
		api.Logger.Warn("Subscribe: key validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid subscription keys: %s", err))
		return
	}

	sub := pusher.Subscription{
		Endpoint: req.Subscription.Endpoint,
		Keys:     req.Subscription.Keys,
		DeviceID: req.DeviceID,
		Metadata: req.Subscription.Metadata,
	}
	// Browsers hand us the expiration as epoch milliseconds.
	if req.Subscription.ExpirationTime != nil {
		t := time.UnixMilli(*req.Subscription.ExpirationTime).UTC()
		sub.ExpirationTime = &t
	}

	stored, err := api.Store.Upsert(ctx, sub)
	if err != nil {
		api.Events.Emit(ctx, slog.LevelError, fmt.Sprintf("Subscription failed: %s", err), "pusher",
			map[string]any{"device_id": req.DeviceID})
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to store subscription")
		return
	}

	api.Events.Emit(ctx, slog.LevelInfo, "Subscription successful", "pusher", map[string]any{
		"endpoint":  stored.Endpoint,
		"device_id": stored.DeviceID,
	})

	writeEnvelope(w, http.StatusCreated, "Subscribed successfully", map[string]any{
		"endpoint":  stored.Endpoint,
		"device_id": stored.DeviceID,
	})
}

// --- Unsubscribe ---

type UnsubscribeRequest struct {
	DeviceIDs []string `json:"device_ids"`
}

func (api *PusherAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.DeviceIDs) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device_ids")
		return
	}

	removed, err := api.Store.DeleteByDevices(ctx, req.DeviceIDs)
	if err != nil {
		api.Events.Emit(ctx, slog.LevelError, fmt.Sprintf("Batch unsubscribe failed: %s", err), "pusher",
			map[string]any{"device_ids": req.DeviceIDs})
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to remove subscriptions")
		return
	}

	if len(removed) == 0 {
		api.Events.Emit(ctx, slog.LevelWarn, "Unsubscribe failed: no subscriptions found for provided device IDs", "pusher",
			map[string]any{"device_ids": req.DeviceIDs})
		response.WriteJSONError(w, http.StatusNotFound, "No subscriptions found for provided device IDs")
		return
	}

	api.Events.Emit(ctx, slog.LevelInfo,
		fmt.Sprintf("Batch unsubscribe successful: removed %d subscriptions", len(removed)), "pusher",
		map[string]any{"device_ids": req.DeviceIDs, "removed_count": len(removed)})

	writeEnvelope(w, http.StatusOK, fmt.Sprintf("Successfully unsubscribed %d devices", len(removed)), map[string]any{
		"device_ids":            req.DeviceIDs,
		"removed_count":         len(removed),
		"removed_subscriptions": removed,
	})
}

// --- Notify ---

func (api *PusherAPI) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pusher.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "payload is not serializable")
		return
	}

	report := api.Dispatcher.SendBatch(ctx, req.DeviceIDs, payload)

	// The derived status code doubles as the HTTP status: 200, 207 or 500.
	writeEnvelope(w, report.StatusCode, report.Message, report.BatchResponse)
}

// --- Logs ---

func (api *PusherAPI) QueryLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := pusher.LogFilter{
		Level:    query.Get("level"),
		Source:   query.Get("source"),
		ClientID: query.Get("client_id"),
		Search:   query.Get("search"),
		Hours:    24,
	}

	for param, dest := range map[string]*int{
		"hours":  &filter.Hours,
		"limit":  &filter.Limit,
		"offset": &filter.Offset,
	} {
		raw := query.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s parameter", param))
			return
		}
		*dest = n
	}

	logs, err := api.Logs.QueryLogs(ctx, filter)
	if err != nil {
		api.Logger.Error("failed to retrieve logs", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "Failed to retrieve logs")
		return
	}

	writeEnvelope(w, http.StatusOK, "Logs retrieved successfully", map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}
