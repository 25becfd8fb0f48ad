// Package api exposes the record and alert service over HTTP.
package api

import (
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/query"
	"Go2NetSentinel/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reader is the part of the service the handlers need.
type Reader interface {
	ListRecords(ctx context.Context, sourceID string) ([]model.PacketRecord, error)
	ListAlerts(ctx context.Context, sourceID string, topN int) ([]model.AlertRecord, error)
	Summary(ctx context.Context, sourceID string) (model.BatchSummary, error)
}

var _ Reader = (*service.Service)(nil)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	reader  Reader
	querier query.Querier // nil when no ClickHouse sink is configured
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a handler. A positive timeout bounds every request; when it expires
// while a source is recomputing, the last good result is served if there is one.
func NewHandler(reader Reader, querier query.Querier, timeout time.Duration, logger *zap.Logger) *APIHandler {
	return &APIHandler{reader: reader, querier: querier, timeout: timeout, logger: logger.With(logging.Component("api"))}
}

// Router builds the route table.
func (h *APIHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/records", h.recordsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts", h.alertsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/summary", h.summaryHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/history", h.historyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *APIHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *APIHandler) recordsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	records, err := h.reader.ListRecords(ctx, r.URL.Query().Get("source"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) alertsHandler(w http.ResponseWriter, r *http.Request) {
	topN := 0
	if v := r.URL.Query().Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid top_n: %v", err), http.StatusBadRequest)
			return
		}
		topN = n
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	alerts, err := h.reader.ListAlerts(ctx, r.URL.Query().Get("source"), topN)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	summary, err := h.reader.Summary(ctx, r.URL.Query().Get("source"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// historyResponse is the body of /api/v1/alerts/history.
type historyResponse struct {
	Counts []query.TypeCount   `json:"counts"`
	Alerts []query.StoredAlert `json:"alerts"`
}

func (h *APIHandler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "alert history requires a clickhouse sink", http.StatusNotImplemented)
		return
	}
	req, err := parseHistoryRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	counts, err := h.querier.CountByType(ctx, req)
	if err != nil {
		h.writeError(w, fmt.Errorf("failed to count alerts: %w", err))
		return
	}
	alerts, err := h.querier.RecentAlerts(ctx, req)
	if err != nil {
		h.writeError(w, fmt.Errorf("failed to query alerts: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Counts: counts, Alerts: alerts})
}

func parseHistoryRequest(r *http.Request) (query.HistoryRequest, error) {
	q := r.URL.Query()
	req := query.HistoryRequest{
		SourceID: q.Get("source"),
		SrcIP:    q.Get("src_ip"),
		Type:     q.Get("type"),
		Limit:    100,
	}
	for key, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("invalid limit %q", v)
		}
		req.Limit = n
	}
	return req, nil
}

// writeError maps service errors onto status codes.
func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	var parseErr *model.ParseError
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &parseErr):
		// raw row content stays in the server log
		h.logger.Warn("source failed to parse", zap.Error(err))
		http.Error(w, fmt.Sprintf("parse error on line %d: %v", parseErr.Line, parseErr.Err), http.StatusUnprocessableEntity)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "result not ready, try again", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
