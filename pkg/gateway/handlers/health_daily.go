package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/gateway/mw"
	"github.com/attune-ai/attune/pkg/store"
)

// DailyHealthHandler handles GET /v1/users/{name}/health/daily: recent
// device health rows for the named user, newest first.
type DailyHealthHandler struct {
	Store store.HealthStore
}

type dailyHealthResponse struct {
	User string              `json:"user"`
	Days []store.DailyHealth `json:"days"`
}

func (h DailyHealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("user name is required"), http.StatusBadRequest)
		return
	}

	days := 7
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("days must be an integer between 1 and 90"), http.StatusBadRequest)
			return
		}
		days = n
	}

	rows, err := h.Store.DailyHealthRange(r.Context(), name, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.DailyHealth{}
	}
	writeJSON(w, http.StatusOK, dailyHealthResponse{User: name, Days: rows})
}
