package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"Internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeMessage(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// StatusFor maps an error to its HTTP status.
//
//	validation 400, authorization 403, not found 404, state 409,
//	arithmetic 422, resource and integrity 500
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	case domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	case domain.KindResource, domain.KindIntegrity:
		return http.StatusInternalServerError
	}
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError renders err. Engine errors keep their message and code;
// anything else is logged and reported as an opaque internal error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if e, ok := domain.AsError(err); ok {
		writeMessage(w, StatusFor(err), e.Message, e.Code)
		return
	}
	status := StatusFor(err)
	if status == http.StatusNotFound {
		writeMessage(w, status, "not found", "NotFound")
		return
	}
	logger.ErrorContext(r.Context(), "handler: request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeMessage(w, status, "internal server error", "Internal")
}

// decodeBody strictly decodes a JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// caller returns the identity authenticated by the signature middleware,
// writing a 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "missing caller identity", "Unauthenticated")
	}
	return id, ok
}

// parseIdentityParam parses a path or query identity, writing a 400 on
// failure.
func parseIdentityParam(w http.ResponseWriter, raw string) (domain.Identity, bool) {
	id, err := crypto.ParseIdentity(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, domain.ErrInvalidIdentity.Message, domain.ErrInvalidIdentity.Code)
		return "", false
	}
	return id, true
}

// parseListOpts extracts pagination and time-window parameters.
// Defaults: limit=50 (max 500), offset=0. since/until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// pathParam extracts a named path parameter (Go 1.22+ routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
