package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/service"
)

const maxRequestBodySize = 1 << 20

// readJSON decodes the body into T. Failures are answered (413 or 400) and
// reported as ok=false.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (v T, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(&v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return v, true
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid request body")
	}
	return v, false
}

// requireField answers 400 when value is blank.
func requireField(w http.ResponseWriter, value, name string) bool {
	if strings.TrimSpace(value) != "" {
		return true
	}
	writeError(w, http.StatusBadRequest, name+" is required")
	return false
}

// queryInt reads a positive integer parameter, falling back to def and
// capping at maxVal when maxVal > 0.
func queryInt(r *http.Request, name string, def, maxVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	switch {
	case err != nil || n <= 0:
		return def
	case maxVal > 0:
		return min(n, maxVal)
	default:
		return n
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps service and store errors onto statuses.
// notFoundMsg is the body for 404s so internal ids are not echoed back.
func writeDomainError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, service.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, service.ErrWorkerExists):
		writeError(w, http.StatusConflict, "worker already running")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting state: "+err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimSpace(afterSentinel(err.Error(), domain.ErrValidation.Error()+":")))
	default:
		writeInternalError(w, err)
	}
}

// afterSentinel drops everything up to and including the wrapped sentinel
// text, leaving the detail the caller can act on.
func afterSentinel(msg, sentinel string) string {
	if _, detail, ok := strings.Cut(msg, sentinel); ok {
		return detail
	}
	return msg
}

// writeInternalError logs err and answers with a generic 500.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
