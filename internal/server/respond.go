package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc that
// Header.Set creates on every call.
var jsonCT = []string{"application/json"}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// writeUpstreamError logs the full error server-side and returns a
// sanitized message to the client, classified per spec §7's error classes.
func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status, errType := errorStatusAndType(err)
	slog.LogAttrs(ctx, slog.LevelError, "upstream error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, apiErrorOf(http.StatusText(status), errType))
}

func apiErrorOf(msg, errType string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errType
	return e
}

// errorStatus maps a sentinel error to its HTTP status code.
func errorStatus(err error) int {
	status, _ := errorStatusAndType(err)
	return status
}

// errorStatusAndType maps a sentinel error to its HTTP status and the
// error "type" field the client-facing dialects expect (spec §7).
func errorStatusAndType(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden, "permission_error"
	case errors.Is(err, gateway.ErrModelNotAllowed):
		return http.StatusForbidden, "permission_error"
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict, "invalid_request_error"
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, gateway.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.Is(err, gateway.ErrCircuitOpen):
		return 529, "overloaded_error"
	case errors.Is(err, gateway.ErrNoCredential), errors.Is(err, gateway.ErrPoolEmpty):
		return 529, "overloaded_error"
	case errors.Is(err, gateway.ErrUpstreamError):
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
