package ops

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	"github.com/ajitpratap0/accretion/internal/dispatcher"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
)

// connectorView is one row of the connector list: config plus the live
// lease and latest-attempt state an operator checks first.
type connectorView struct {
	ConnectorID        string     `json:"connector_id"`
	SourceKind         string     `json:"source_kind"`
	PollInterval       string     `json:"poll_interval"`
	Paused             bool       `json:"paused"`
	Due                bool       `json:"due"`
	LeasedBy           string     `json:"leased_by,omitempty"`
	LeaseExpiresAt     *time.Time `json:"lease_expires_at,omitempty"`
	LastStatus         string     `json:"last_status,omitempty"`
	LastEndedAt        *time.Time `json:"last_ended_at,omitempty"`
	DocumentsProcessed int64      `json:"documents_processed"`
}

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleListConnectors(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfgs, err := deps.Connectors.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list connectors: %v", err)
			return
		}

		now := time.Now().UTC()
		views := make([]connectorView, 0, len(cfgs))
		for _, cfg := range cfgs {
			v := connectorView{
				ConnectorID:  cfg.ConnectorID,
				SourceKind:   cfg.SourceKind,
				PollInterval: cfg.PollInterval.String(),
				Paused:       cfg.Paused,
			}

			l, err := deps.Leases.Get(r.Context(), cfg.ConnectorID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read lease: %v", err)
				return
			}
			if l != nil {
				v.LeasedBy = l.WorkerID
				expires := l.ExpiresAt
				v.LeaseExpiresAt = &expires
			}

			latest, err := deps.Coordinator.GetAttemptStatus(r.Context(), cfg.ConnectorID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read attempts: %v", err)
				return
			}
			if latest != nil {
				v.LastStatus = string(latest.Status)
				v.DocumentsProcessed = latest.DocumentsProcessed
				if !latest.EndedAt.IsZero() {
					ended := latest.EndedAt
					v.LastEndedAt = &ended
				}
			}

			v.Due = !cfg.Paused && l == nil && dispatcher.Due(cfg, latest, now)
			views = append(views, v)
		}

		writeJSON(w, http.StatusOK, views)
	}
}

func handleLatestAttempt(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := lookupConnector(w, r, deps)
		if !ok {
			return
		}

		latest, err := deps.Coordinator.GetAttemptStatus(r.Context(), cfg.ConnectorID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read attempts: %v", err)
			return
		}
		if latest == nil {
			httpError(w, http.StatusNotFound, "not_found", "connector has no attempts yet")
			return
		}

		writeJSON(w, http.StatusOK, latest)
	}
}

func handleListAttempts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := lookupConnector(w, r, deps)
		if !ok {
			return
		}

		limit := parseIntParam(r, "limit", 20, 100)
		attempts, err := deps.Coordinator.ListAttempts(r.Context(), cfg.ConnectorID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list attempts: %v", err)
			return
		}
		if attempts == nil {
			attempts = []*coordinator.Attempt{}
		}

		writeJSON(w, http.StatusOK, attempts)
	}
}

func handleTrigger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := lookupConnector(w, r, deps)
		if !ok {
			return
		}
		if cfg.Paused {
			httpError(w, http.StatusConflict, "conflict", "connector is paused")
			return
		}

		task := dispatcher.Task{
			ConnectorID: cfg.ConnectorID,
			Reason:      dispatcher.ReasonManual,
			RequestedAt: time.Now().UTC(),
		}
		if err := deps.Queue.Enqueue(r.Context(), task); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue task: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":       "queued",
			"connector_id": cfg.ConnectorID,
		})
	}
}

func handleResync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := lookupConnector(w, r, deps)
		if !ok {
			return
		}

		err := deps.Coordinator.RequestFullResync(r.Context(), cfg.ConnectorID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{
				"status":       "resync_requested",
				"connector_id": cfg.ConnectorID,
			})
		case errors.Is(err, coordinator.ErrAlreadyRunning):
			httpError(w, http.StatusConflict, "conflict", "resync refused, an attempt is running")
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to request resync: %v", err)
		}
	}
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, ok := lookupConnector(w, r, deps)
		if !ok {
			return
		}

		if !deps.Coordinator.Cancel(cfg.ConnectorID) {
			httpError(w, http.StatusNotFound, "not_found", "no running attempt on this worker")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":       "cancel_requested",
			"connector_id": cfg.ConnectorID,
		})
	}
}

// lookupConnector resolves the {connectorID} path param, writing a 404
// when it names no known connector.
func lookupConnector(w http.ResponseWriter, r *http.Request, deps Deps) (*core.ConnectorConfig, bool) {
	id := chi.URLParam(r, "connectorID")
	cfg, err := deps.Connectors.Get(r.Context(), id)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "connector %q not found", id)
		return nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load connector: %v", err)
		return nil, false
	}
	return cfg, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonpool.MarshalToWriter(w, v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	_ = jsonpool.MarshalToWriter(w, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
