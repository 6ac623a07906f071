package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/gateway/apierror"
	"github.com/attune-ai/attune/pkg/gateway/mw"
)

// writeError renders any error through the canonical envelope, mapping
// store sentinels and *core.Error values onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
