package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jittakal/bustrace/pkg/buffer"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// RingStatus is the part of the ring the health checker reads.
type RingStatus interface {
	Stats() buffer.Stats
}

// RingHealth reports the process alive while it runs and ready while the
// ring accepts records.
type RingHealth struct {
	ring RingStatus
}

// NewRingHealth creates a health checker for the ring.
func NewRingHealth(ring RingStatus) *RingHealth {
	return &RingHealth{ring: ring}
}

// Liveness always reports true; a wedged process stops answering instead.
func (h *RingHealth) Liveness() bool {
	return true
}

// Readiness reports whether the ring is open.
func (h *RingHealth) Readiness(ctx context.Context) bool {
	return h.IsHealthy()
}

// IsHealthy reports whether the ring is open.
func (h *RingHealth) IsHealthy() bool {
	return !h.ring.Stats().Closed
}

// GetStatus returns the ring state for the readiness response.
func (h *RingHealth) GetStatus() map[string]string {
	s := h.ring.Stats()
	state := "open"
	if s.Closed {
		state = "closed"
	}
	return map[string]string{
		"ring":        state,
		"records":     strconv.Itoa(s.Records),
		"slots":       strconv.Itoa(s.Slots),
		"overwritten": strconv.FormatUint(s.Overwritten, 10),
		"dropped":     strconv.FormatUint(s.Dropped, 10),
	}
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, logger, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can accept captures.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, logger, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		})
	}
}

func writeHealth(w http.ResponseWriter, logger *slog.Logger, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}
