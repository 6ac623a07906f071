package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/mw"
	"github.com/attune-ai/attune/pkg/gateway/sse"
)

// EventsHandler handles GET /v1/sessions/{id}/events: a server-sent-events
// mirror of the session's frames for dashboards and logging tools. Audio
// never appears here, so any number of observers can attach cheaply.
type EventsHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Launcher *live.Launcher
	Registry *sessions.Registry
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	id := r.PathValue("id")
	rec, ok := h.Registry.Lookup(id)
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}

	sw, err := sse.New(w)
	if err != nil {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "streaming is not supported on this connection", RequestID: reqID}, http.StatusInternalServerError)
		return
	}

	hub, ok := h.Launcher.Hub(id)
	if !ok {
		// Session already over: emit the final frame and finish the stream.
		if payload, err := protocol.Marshal(protocol.SessionEnded(rec.Reason(), time.Now())); err == nil {
			_ = sw.Send("session_ended", json.RawMessage(payload))
		}
		return
	}

	sub := hub.Subscribe(64)
	defer sub.Close()

	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("events stream attached", "session_id", id, "request_id", reqID)

	pingInterval := h.Config.SSEPingInterval
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if err := sw.Send(frame.Type, json.RawMessage(frame.Payload)); err != nil {
				return
			}
		}
	}
}
