package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-ai/attune/pkg/core/audio"
	"github.com/attune-ai/attune/pkg/core/session"
	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
)

const (
	httpTimeout         = 15 * time.Second
	writeTimeout        = 5 * time.Second
	endGrace            = 5 * time.Second
	maxServerFrameBytes = 1 << 20
)

type micDeps struct {
	httpClient *http.Client
	dial       func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error)
	newAudio   func() session.AudioDuplexer
}

func defaultMicDeps(logger *slog.Logger) micDeps {
	return micDeps{
		httpClient: &http.Client{Timeout: httpTimeout},
		dial: func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.DialContext(ctx, url, header)
		},
		newAudio: func() session.AudioDuplexer {
			return audio.NewDevices(logger)
		},
	}
}

// startSession creates a stream-mode session over the REST API and returns
// its id.
func startSession(ctx context.Context, client *http.Client, cfg micConfig) (string, error) {
	body, err := json.Marshal(map[string]string{
		"name":       cfg.Name,
		"mood":       cfg.Mood,
		"audio_mode": "stream",
	})
	if err != nil {
		return "", fmt.Errorf("encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(cfg.BaseURL, "/")+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", gatewayError(resp)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if out.SessionID == "" {
		return "", errors.New("gateway returned an empty session id")
	}
	return out.SessionID, nil
}

// gatewayError turns a non-2xx response into a readable error, preferring
// the message from the error envelope when one is present.
func gatewayError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// liveWSURL converts the HTTP base URL into the session's live WebSocket
// endpoint.
func liveWSURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = path.Join("/", u.Path, "v1", "sessions", sessionID, "live")
	return u.String(), nil
}

// sender serializes all outbound writes; the mic pump and the interrupt path
// both go through it.
type sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sender) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func runMic(ctx context.Context, cfg micConfig, deps micDeps, out, errOut io.Writer) error {
	if deps.httpClient == nil || deps.dial == nil || deps.newAudio == nil {
		return errors.New("missing mic dependencies")
	}

	id, err := startSession(ctx, deps.httpClient, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s started for %s (Ctrl-C to wrap up)\n", id, cfg.Name)

	wsURL, err := liveWSURL(cfg.BaseURL, id)
	if err != nil {
		return err
	}
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	conn, resp, err := deps.dial(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("attach live socket (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("attach live socket: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxServerFrameBytes)

	dev := deps.newAudio()
	if err := dev.OpenInput(); err != nil {
		return err
	}
	if err := dev.OpenOutput(); err != nil {
		dev.Close()
		return err
	}
	defer dev.Close()

	snd := &sender{conn: conn}
	pr := &printer{out: out, errOut: errOut, verbose: cfg.Verbose}

	micCtx, stopMic := context.WithCancel(ctx)
	defer stopMic()
	go micPump(micCtx, dev, snd, errOut)

	readDone := make(chan error, 1)
	go func() {
		readDone <- readLoop(conn, pr, dev)
	}()

	select {
	case err := <-readDone:
		return err
	case <-ctx.Done():
	}

	// Interrupted: stop the mic, ask the gateway to finish the session, and
	// give it a moment to confirm before closing the socket.
	stopMic()
	pr.breakLine()
	fmt.Fprintln(out, "wrapping up...")
	_ = snd.sendJSON(protocol.ClientControl{Type: protocol.ControlEndSession})

	select {
	case err := <-readDone:
		return err
	case <-time.After(endGrace):
		fmt.Fprintln(errOut, "gateway did not confirm the end, closing anyway")
		return nil
	}
}

// micPump forwards microphone chunks as base64 audio frames until ctx is
// cancelled.
func micPump(ctx context.Context, dev session.AudioDuplexer, snd *sender, errOut io.Writer) {
	for {
		chunk, err := dev.ReadChunk(ctx)
		if err != nil {
			return
		}
		if len(chunk) == 0 {
			continue
		}
		frame := protocol.ClientAudio{Type: "audio", DataB64: base64.StdEncoding.EncodeToString(chunk)}
		if err := snd.sendJSON(frame); err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(errOut, "send mic audio: %v\n", err)
			}
			return
		}
	}
}

func readLoop(conn *websocket.Conn, pr *printer, dev session.AudioDuplexer) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read live socket: %w", err)
		}
		done, err := pr.handle(raw, func(pcm []byte) error {
			return dev.WriteChunk(context.Background(), pcm)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// printer renders server frames for the terminal. Transcript pieces stream
// inline; a speaker change or turn boundary breaks the line.
type printer struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool

	speaker string
}

// handle renders one frame. done reports that the session is over; a non-nil
// error means the gateway asked us to stop.
func (p *printer) handle(raw []byte, play func([]byte) error) (done bool, err error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		fmt.Fprintf(p.errOut, "skipping malformed frame: %v\n", err)
		return false, nil
	}

	switch envelope.Type {
	case "session_started":
		var f protocol.ServerSessionStarted
		if json.Unmarshal(raw, &f) == nil && p.verbose {
			fmt.Fprintf(p.out, "[session] connected as %s\n", f.UserName)
		}

	case "orchestration_complete":
		var f protocol.ServerOrchestrationComplete
		if json.Unmarshal(raw, &f) != nil {
			return false, nil
		}
		p.breakLine()
		if f.MoodAnalysis != "" {
			fmt.Fprintf(p.out, "[mood] %s\n", f.MoodAnalysis)
		}
		if f.HealthSuggestion != "" {
			fmt.Fprintf(p.out, "[health] %s\n", f.HealthSuggestion)
		}
		if f.SocialSuggestion != "" {
			fmt.Fprintf(p.out, "[social] %s\n", f.SocialSuggestion)
		}

	case "audio":
		var f protocol.ServerAudio
		if json.Unmarshal(raw, &f) != nil {
			return false, nil
		}
		pcm, decodeErr := base64.StdEncoding.DecodeString(f.DataB64)
		if decodeErr != nil {
			fmt.Fprintf(p.errOut, "skipping bad audio frame: %v\n", decodeErr)
			return false, nil
		}
		if playErr := play(pcm); playErr != nil {
			fmt.Fprintf(p.errOut, "playback: %v\n", playErr)
		}

	case "agent_transcript":
		var f protocol.ServerTranscript
		if json.Unmarshal(raw, &f) == nil {
			p.speech("agent", f.Text)
		}

	case "user_transcript":
		var f protocol.ServerTranscript
		if json.Unmarshal(raw, &f) == nil {
			p.speech("you", f.Text)
		}

	case "turn_complete":
		p.breakLine()

	case "live_analysis":
		if !p.verbose {
			return false, nil
		}
		var f protocol.ServerLiveAnalysis
		if json.Unmarshal(raw, &f) == nil {
			p.breakLine()
			fmt.Fprintf(p.out, "[analysis] mood %d/10 (%s), urgency %s\n", f.MoodScore, f.MoodTrend, f.Urgency)
		}

	case "context_update":
		if !p.verbose {
			return false, nil
		}
		var f protocol.ServerContextUpdate
		if json.Unmarshal(raw, &f) == nil {
			p.breakLine()
			fmt.Fprintf(p.out, "[context] %s\n", f.Context)
		}

	case "session_ending":
		var f protocol.ServerSessionEnding
		if json.Unmarshal(raw, &f) != nil {
			return false, nil
		}
		p.breakLine()
		if f.Message == "" {
			f.Message = "the session is wrapping up"
		}
		fmt.Fprintf(p.out, "[session] %s\n", f.Message)

	case "session_ended":
		var f protocol.ServerSessionEnded
		if json.Unmarshal(raw, &f) != nil {
			return true, nil
		}
		p.breakLine()
		fmt.Fprintf(p.out, "[session] ended (%s)\n", f.Reason)
		return true, nil

	case "error":
		var f protocol.ServerError
		if json.Unmarshal(raw, &f) != nil {
			return false, nil
		}
		p.breakLine()
		if f.Close {
			return false, fmt.Errorf("gateway: %s", f.Message)
		}
		fmt.Fprintf(p.errOut, "[error] %s\n", f.Message)
	}

	return false, nil
}

// speech prints one transcript piece, opening a labelled line when the
// speaker changes.
func (p *printer) speech(speaker, text string) {
	if text == "" {
		return
	}
	if p.speaker != speaker {
		p.breakLine()
		if speaker == "you" {
			fmt.Fprint(p.out, "[you] ")
		} else {
			fmt.Fprint(p.out, "[agent] ")
		}
		p.speaker = speaker
	}
	fmt.Fprint(p.out, text)
}

func (p *printer) breakLine() {
	if p.speaker != "" {
		fmt.Fprintln(p.out)
		p.speaker = ""
	}
}
