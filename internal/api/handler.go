// Package api provides HTTP handlers for the escalation API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/notify"
	"github.com/myle1996kh/base-chatbot/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler serves the escalation endpoints.
type Handler struct {
	svc  *escalation.Service
	repo store.Repository
	hub  *notify.Hub
}

// NewHandler creates a Handler. hub may be nil, which disables the event stream.
func NewHandler(svc *escalation.Service, repo store.Repository, hub *notify.Hub) *Handler {
	return &Handler{svc: svc, repo: repo, hub: hub}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"error": code, "message": message})
}

// WriteError maps a service error to its HTTP status and writes it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *escalation.Error
	if !errors.As(err, &e) {
		slog.Error("Unhandled request error", "error", err, "path", r.URL.Path)
		Error(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	status := statusFor(e.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Request rejected", "code", e.Code, "reason", e.Message, "path", r.URL.Path)
	}
	msg := e.Message
	if msg == "" || e.Code == escalation.CodeStoreUnavailable {
		msg = string(e.Code)
	}
	Error(w, status, string(e.Code), msg)
}

func statusFor(code escalation.Code) int {
	switch code {
	case escalation.CodeNotFound:
		return http.StatusNotFound
	case escalation.CodeInvalidState, escalation.CodeAlreadyEscalated,
		escalation.CodeNotEscalated, escalation.CodeStaffUnavailable:
		return http.StatusConflict
	case escalation.CodePermissionDenied:
		return http.StatusForbidden
	case escalation.CodeInvalidArgument:
		return http.StatusBadRequest
	case escalation.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &escalation.Error{Code: escalation.CodeInvalidArgument, Message: "malformed JSON body", Err: err}
	}
	return nil
}

// checkID rejects identifiers that are not UUID-shaped.
func checkID(name, value string) error {
	if value == "" {
		return &escalation.Error{Code: escalation.CodeInvalidArgument, Message: name + " is required"}
	}
	if _, err := uuid.Parse(value); err != nil {
		return &escalation.Error{Code: escalation.CodeInvalidArgument, Message: fmt.Sprintf("%s %q is not a valid id", name, value)}
	}
	return nil
}

// pathIDs returns the named chi URL params after validating each.
func pathIDs(r *http.Request, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v := chi.URLParam(r, name)
		if err := checkID(name, v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
