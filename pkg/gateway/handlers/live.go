package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/lifecycle"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/mw"
)

// LiveHandler handles GET /v1/sessions/{id}/live: the WebSocket that pushes
// session frames to the client. On a stream-mode session the first socket
// to connect also becomes the session's audio path; everyone else observes.
type LiveHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Launcher  *live.Launcher
	Registry  *sessions.Registry
	Lifecycle *lifecycle.Lifecycle
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, 529)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", RequestID: reqID}, http.StatusForbidden)
		return
	}

	id := r.PathValue("id")
	rec, ok := h.Registry.Lookup(id)
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", id, "request_id", reqID)

	writer := live.NewWriter(conn, live.WriterConfig{
		PingInterval: h.Config.LiveWSPingInterval,
		WriteTimeout: h.Config.LiveWSWriteTimeout,
	}, log)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = writer.Run(ctx)
	}()

	hub, ok := h.Launcher.Hub(id)
	if !ok {
		// Session already over: deliver the verdict and hang up.
		h.sendFrame(writer, protocol.SessionEnded(rec.Reason(), time.Now()))
		cancel()
		<-writerDone
		return
	}

	// Mirror hub frames onto the socket. Lifecycle frames ride the priority
	// lane so they beat queued transcripts out the door on shutdown.
	sub := hub.Subscribe(64)
	defer sub.Close()
	go func() {
		for frame := range sub.Frames() {
			switch frame.Type {
			case "session_ending", "session_ended", "error":
				writer.SendPriority(frame.Payload)
			default:
				writer.Send(frame.Payload)
			}
		}
		// Hub closed: the session is finished, so stop the socket.
		cancel()
	}()

	// In stream mode, try to claim the audio path. Losing the claim (another
	// socket got there first, or the session runs on local devices) leaves
	// this connection as a plain observer.
	var bridge *live.Bridge
	if mode, ok := h.Launcher.Mode(id); ok && mode == live.ModeStream {
		b := live.NewBridge(writer, log)
		if err := h.Launcher.Attach(id, b); err != nil {
			_ = b.Close()
			log.Debug("live socket joins as observer", "error", err)
		} else {
			bridge = b
			defer bridge.Close()
			log.Info("audio socket attached")
		}
	}

	h.readLoop(ctx, conn, writer, rec, bridge, log)

	cancel()
	<-writerDone
}

// readLoop pumps client frames until the socket dies or the session ends.
func (h LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, writer *live.Writer, rec *sessions.Record, bridge *live.Bridge, log *slog.Logger) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if bridge != nil && ctx.Err() == nil {
				// The audio path is gone; the session cannot continue.
				rec.End(types.EndConnectionClosed)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		decoded, err := protocol.DecodeClientMessage(data)
		if err != nil {
			h.sendDecodeError(writer, err)
			continue
		}

		switch msg := decoded.(type) {
		case protocol.ClientAudio:
			if bridge == nil {
				continue
			}
			pcm, err := msg.PCM()
			if err != nil {
				h.sendDecodeError(writer, err)
				continue
			}
			if h.Config.LiveMaxAudioFrameBytes > 0 && len(pcm) > h.Config.LiveMaxAudioFrameBytes {
				h.sendFrame(writer, protocol.Error("frame_too_large", "audio frame exceeds the size limit", false))
				continue
			}
			bridge.PushAudio(pcm)
		case protocol.ClientControl:
			switch msg.Type {
			case protocol.ControlStartSpeaking:
				if bridge != nil {
					bridge.SetAccepting(true)
				}
			case protocol.ControlStopSpeaking:
				if bridge != nil {
					bridge.SetAccepting(false)
				}
			case protocol.ControlEndSession:
				log.Info("client requested session end")
				rec.End(types.EndManualCompletion)
			}
		}
	}
}

func (h LiveHandler) sendFrame(writer *live.Writer, frame any) {
	payload, err := protocol.Marshal(frame)
	if err != nil {
		return
	}
	writer.SendPriority(payload)
}

func (h LiveHandler) sendDecodeError(writer *live.Writer, err error) {
	code, message := "bad_request", "invalid frame"
	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		code, message = decodeErr.Code, decodeErr.Error()
	}
	h.sendFrame(writer, protocol.Error(code, message, false))
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
