package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/store"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Store sentinels.
	if errors.Is(err, store.ErrNotFound) {
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}
	if errors.Is(err, store.ErrUnavailable) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "storage unavailable",
			Code:      "storage_unavailable",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrProvider:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
