package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"policygate.org/internal/eval"
	"policygate.org/internal/opa"
	"policygate.org/internal/policies"
	"policygate.org/internal/registry"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors onto HTTP statuses. Engine outages
// surface as 503 so clients can distinguish "you are wrong" from "we are
// down".
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *policies.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "policy validation failed",
			"diagnostics": vErr.Diagnostics,
		})
	case errors.Is(err, registry.ErrInvalidInput), errors.Is(err, policies.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, policies.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrConflict), errors.Is(err, policies.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, policies.ErrNotLoaded):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, opa.ErrBadResponse):
		writeError(w, r, http.StatusInternalServerError, "policy engine returned a malformed response")
	case errors.Is(err, opa.ErrUnreachable), errors.Is(err, registry.ErrSyncFailed), errors.Is(err, eval.ErrEvaluation):
		writeError(w, r, http.StatusServiceUnavailable, "policy engine unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
