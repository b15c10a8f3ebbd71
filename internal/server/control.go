package server

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jittakal/bustrace/internal/errors"
	"github.com/jittakal/bustrace/internal/validator"
	"github.com/jittakal/bustrace/pkg/buffer"
	"github.com/jittakal/bustrace/pkg/trace"
)

// Response headers set by the drain endpoint.
const (
	HeaderRecords   = "X-Trace-Records"
	HeaderNextBytes = "X-Trace-Next-Bytes"
)

// Ring is the buffer surface exposed over HTTP.
type Ring interface {
	buffer.Buffer
	NextFootprint() int
}

// CaptureValidator validates captures before they are enqueued.
type CaptureValidator interface {
	Validate(c *trace.Capture) error
}

// MetricsCollector defines metrics operations for the control channel.
type MetricsCollector interface {
	IncCapturesIngested(source, status string)
}

// ControlConfig limits the control channel.
type ControlConfig struct {
	// MaxRequestBytes caps a capture request body.
	MaxRequestBytes int64
	// DefaultDrainBytes is used when a drain request names no size.
	DefaultDrainBytes int
	// MaxDrainBytes caps the region a single drain request may ask for.
	MaxDrainBytes int
	// DrainEnabled exposes the drain endpoint. It is switched off when the
	// exporter owns the consumer side of the ring.
	DrainEnabled bool
}

// CaptureRequest is the JSON body of POST /v1/traces. Payload is base64.
type CaptureRequest struct {
	DeviceID uint32 `json:"device_id"`
	Type     string `json:"type"`
	Payload  []byte `json:"payload"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ControlHandler serves the ring's control channel.
type ControlHandler struct {
	ring      Ring
	validator CaptureValidator
	config    ControlConfig
	logger    *slog.Logger
	metrics   MetricsCollector
}

// NewControlHandler creates the control channel handler.
func NewControlHandler(
	ring Ring,
	captureValidator CaptureValidator,
	config ControlConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) *ControlHandler {
	if config.DefaultDrainBytes <= 0 {
		config.DefaultDrainBytes = 256 * 1024
	}
	if config.MaxDrainBytes < config.DefaultDrainBytes {
		config.MaxDrainBytes = config.DefaultDrainBytes
	}
	return &ControlHandler{
		ring:      ring,
		validator: captureValidator,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register adds the control routes to mux.
func (h *ControlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/traces", h.Capture)
	mux.HandleFunc("GET /v1/traces", h.Drain)
	mux.HandleFunc("GET /v1/traces/stats", h.Stats)
	mux.HandleFunc("POST /v1/traces/reset", h.Reset)
}

// Capture enqueues one record.
func (h *ControlHandler) Capture(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBytes)
	}

	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.reject(w, "rejected", http.StatusRequestEntityTooLarge, err)
			return
		}
		h.reject(w, "rejected", http.StatusBadRequest, err)
		return
	}

	typ, err := h.parseType(req.Type)
	if err != nil {
		h.reject(w, "rejected", http.StatusBadRequest, err)
		return
	}
	capture := &trace.Capture{
		DeviceID: trace.DeviceID(req.DeviceID),
		Type:     typ,
		Payload:  req.Payload,
	}
	if err := h.validator.Validate(capture); err != nil {
		status := http.StatusBadRequest
		var verr *errors.ValidationError
		if stderrors.As(err, &verr) && verr.Field == "payload" {
			status = http.StatusRequestEntityTooLarge
		}
		h.reject(w, "rejected", status, err)
		return
	}

	err = h.ring.Enqueue(capture.DeviceID, capture.Type, capture.Payload)
	switch {
	case err == nil:
		h.count("accepted")
		writeJSON(w, h.logger, http.StatusAccepted, statusResponse{Status: "accepted"})
	case stderrors.Is(err, errors.ErrPayloadTooLarge):
		h.reject(w, "rejected", http.StatusRequestEntityTooLarge, err)
	case stderrors.Is(err, errors.ErrBufferClosed):
		h.reject(w, "closed", http.StatusServiceUnavailable, err)
	default:
		h.reject(w, "dropped", http.StatusServiceUnavailable, err)
	}
}

// Drain copies whole records into a region of max_bytes and returns it as
// the response body. X-Trace-Records carries the record count. When nothing
// fits, X-Trace-Next-Bytes names the size the next record needs.
func (h *ControlHandler) Drain(w http.ResponseWriter, r *http.Request) {
	if !h.config.DrainEnabled {
		writeJSON(w, h.logger, http.StatusConflict, statusResponse{
			Status: "unavailable",
			Error:  "the ring is drained by the exporter",
		})
		return
	}

	size := h.config.DefaultDrainBytes
	if raw := r.URL.Query().Get("max_bytes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, h.logger, http.StatusBadRequest, statusResponse{
				Status: "rejected",
				Error:  "max_bytes must be a positive integer",
			})
			return
		}
		size = min(n, h.config.MaxDrainBytes)
	}

	region := make([]byte, size)
	n := h.ring.Drain(region)
	region = region[:n]

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.Header().Set(HeaderRecords, strconv.Itoa(countRecords(region)))
	if n == 0 {
		if next := h.ring.NextFootprint(); next > 0 {
			w.Header().Set(HeaderNextBytes, strconv.Itoa(next))
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(region); err != nil {
		h.logger.Error("failed to write drained region", "error", err, "bytes", n)
	}
}

// Stats returns the ring statistics.
func (h *ControlHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.ring.Stats())
}

// Reset discards every queued record.
func (h *ControlHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.ring.Reset()
	h.logger.Info("trace ring reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) parseType(raw string) (trace.RequestType, error) {
	if raw == "" {
		return trace.RequestUnknown, &errors.ValidationError{Field: "type", Reason: "request type is required"}
	}
	return validator.ParseRequestType(raw)
}

func (h *ControlHandler) reject(w http.ResponseWriter, status string, code int, err error) {
	h.count(status)
	h.logger.Warn("capture request failed", "status", status, "code", code, "error", err)
	writeJSON(w, h.logger, code, statusResponse{Status: status, Error: err.Error()})
}

func (h *ControlHandler) count(status string) {
	if h.metrics != nil {
		h.metrics.IncCapturesIngested("http", status)
	}
}

// countRecords counts the whole records of a region produced by Drain.
func countRecords(region []byte) int {
	count := 0
	for sc := trace.NewScanner(region); sc.Next(); {
		count++
	}
	return count
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
