package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/occlusion"
	"danmakuoverlay/core/backend/router"
	"danmakuoverlay/core/backend/service/session"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 25 * time.Second
)

type sessionModule struct {
	deps     *router.Dependencies
	upgrader websocket.Upgrader
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &sessionModule{
			deps: deps,
			upgrader: websocket.Upgrader{
				ReadBufferSize:  1024,
				WriteBufferSize: 16 * 1024,
				CheckOrigin:     func(r *http.Request) bool { return true },
			},
		}
	})
}

func (m *sessionModule) Prefix() string {
	return m.deps.Config.APIBase + "/sessions"
}

func (m *sessionModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "", Summary: "Open a playback session", Description: "Loads a video by oid, or follows a live room by roomId.", Handler: m.create},
		{Method: http.MethodGet, Pattern: "", Summary: "List sessions", Handler: m.list},
		{Method: http.MethodGet, Pattern: "/{id}", Summary: "Session state", Handler: m.info},
		{Method: http.MethodPost, Pattern: "/{id}/frame", Summary: "Push a face detection frame", Handler: m.frame},
		{Method: http.MethodPost, Pattern: "/{id}/telemetry", Summary: "Push player position and speed", Handler: m.telemetry},
		{Method: http.MethodPost, Pattern: "/{id}/seek", Summary: "Seek the comment queue", Handler: m.seek},
		{Method: http.MethodPost, Pattern: "/{id}/switch", Summary: "Switch the session to another video", Handler: m.switchVideo},
		{Method: http.MethodPost, Pattern: "/{id}/close", Summary: "Close a session", Handler: m.close},
		{Method: http.MethodGet, Pattern: "/{id}/events", Summary: "Session event stream (websocket)", Handler: m.events},
	}
}

func (m *sessionModule) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if m.deps.Sessions == nil {
		httpapi.Error(w, -1, "session service not available", http.StatusOK)
		return nil, false
	}
	s, err := m.deps.Sessions.Get(pathID(r))
	if err != nil {
		httpapi.NotFound(w, err.Error())
		return nil, false
	}
	return s, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed):
		httpapi.NotFound(w, err.Error())
	default:
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
	}
}

func (m *sessionModule) create(w http.ResponseWriter, r *http.Request) {
	if m.deps.Sessions == nil {
		httpapi.Error(w, -1, "session service not available", http.StatusOK)
		return
	}
	var req session.Request
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	s, summary, err := m.deps.Sessions.Create(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"id": s.ID, "summary": summary})
}

func (m *sessionModule) list(w http.ResponseWriter, r *http.Request) {
	if m.deps.Sessions == nil {
		httpapi.OK(w, []session.Info{})
		return
	}
	httpapi.OK(w, m.deps.Sessions.List())
}

func (m *sessionModule) info(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	httpapi.OK(w, s.Info())
}

func (m *sessionModule) frame(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		occlusion.Frame
		NowMs int64 `json:"nowMs"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if req.NowMs <= 0 {
		req.NowMs = time.Now().UnixMilli()
	}
	result, err := s.Frame(req.Frame, req.NowMs)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OK(w, result)
}

func (m *sessionModule) telemetry(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		PositionMs int64   `json:"positionMs"`
		Speed      float64 `json:"speed"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if req.Speed <= 0 {
		req.Speed = 1
	}
	decision, err := s.Telemetry(req.PositionMs, req.Speed)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OK(w, decision)
}

func (m *sessionModule) seek(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		PositionMs int64 `json:"positionMs"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if err := s.Seek(req.PositionMs); err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OK(w, s.Info())
}

func (m *sessionModule) switchVideo(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	var req session.Request
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	summary, err := s.Switch(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OK(w, summary)
}

func (m *sessionModule) close(w http.ResponseWriter, r *http.Request) {
	if m.deps.Sessions == nil {
		httpapi.Error(w, -1, "session service not available", http.StatusOK)
		return
	}
	if err := m.deps.Sessions.Close(pathID(r)); err != nil {
		writeSessionError(w, err)
		return
	}
	httpapi.OKMessage(w, "closed")
}

// events streams session events as JSON text frames until the session closes
// or the client goes away.
func (m *sessionModule) events(w http.ResponseWriter, r *http.Request) {
	s, ok := m.lookup(w, r)
	if !ok {
		return
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[session][warn] %s events upgrade failed: %v", s.ID, err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-s.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(eventWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[session][warn] %s events write failed: %v", s.ID, err)
				return
			}
		}
	}
}
