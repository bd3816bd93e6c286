package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
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

// handleCenterError maps domain sentinels onto the HTTP taxonomy. Unknown
// errors are a 500 with the message withheld.
func handleCenterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, center.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, center.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, center.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, center.ErrCodeUsed), errors.Is(err, center.ErrCodeExpired):
		writeError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, center.ErrNotFound), errors.Is(err, center.ErrUnknownClient), errors.Is(err, center.ErrRedirectMismatch):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, center.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, center.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
