package gemini

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/attune-ai/attune/pkg/core"
)

// geminiError is the error envelope returned by the Gemini API.
type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseError maps a non-200 Gemini response onto the core error taxonomy.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var geminiErr geminiError
	if err := json.Unmarshal(body, &geminiErr); err != nil {
		return &core.Error{
			Type:    core.ErrProvider,
			Message: string(body),
		}
	}

	var errType core.ErrorType
	switch geminiErr.Error.Status {
	case "INVALID_ARGUMENT":
		errType = core.ErrInvalidRequest
	case "UNAUTHENTICATED":
		errType = core.ErrAuthentication
	case "PERMISSION_DENIED":
		errType = core.ErrPermission
	case "NOT_FOUND":
		errType = core.ErrNotFound
	case "RESOURCE_EXHAUSTED":
		errType = core.ErrRateLimit
	case "INTERNAL":
		errType = core.ErrAPI
	case "UNAVAILABLE":
		errType = core.ErrOverloaded
	case "FAILED_PRECONDITION":
		errType = core.ErrInvalidRequest
	default:
		errType = core.ErrProvider
	}

	// The HTTP status wins over an ambiguous body.
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		errType = core.ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = core.ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = core.ErrAuthentication
	}

	return &core.Error{
		Type:    errType,
		Message: geminiErr.Error.Message,
		Code:    geminiErr.Error.Status,
	}
}
