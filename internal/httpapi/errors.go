package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chanalystd/internal/clusterer"
	"chanalystd/internal/llm"
	"chanalystd/internal/store"
	"chanalystd/internal/summarizer"
)

// kindedError carries an explicit HTTP status alongside a message, for the
// handler-local validation/not-found cases that don't map to a sentinel
// error from a lower layer.
type kindedError struct {
	status int
	msg    string
}

func (e *kindedError) Error() string { return e.msg }

func errValidation(msg string) error { return &kindedError{status: http.StatusBadRequest, msg: msg} }
func errNotFound(msg string) error   { return &kindedError{status: http.StatusNotFound, msg: msg} }
func errInternal(msg string) error   { return &kindedError{status: http.StatusInternalServerError, msg: msg} }

// statusFromError maps an error to the HTTP status per spec.md §7's error
// kind table.
func statusFromError(err error) int {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.status
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, summarizer.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, clusterer.ErrIncompletePartition), errors.Is(err, llm.ErrSchemaViolation):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrUpstreamTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
