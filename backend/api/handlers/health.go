package handlers

import (
	"net/http"
	"runtime"
	"time"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
)

type healthModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &healthModule{deps: deps}
	})
}

func (m *healthModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *healthModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/health", Summary: "Health check", Handler: m.health},
		{Method: http.MethodGet, Pattern: "/capabilities", Summary: "Capability manifest", Handler: m.capabilities},
	}
}

func (m *healthModule) health(w http.ResponseWriter, r *http.Request) {
	type payload struct {
		Status    string `json:"status"`
		Now       string `json:"now"`
		GoVersion string `json:"goVersion"`
		Sessions  int    `json:"sessions"`
		CacheSize int    `json:"segmentCacheEntries"`
	}
	out := payload{
		Status:    "ok",
		Now:       time.Now().Format(time.RFC3339),
		GoVersion: runtime.Version(),
	}
	if m.deps.Sessions != nil {
		out.Sessions = len(m.deps.Sessions.List())
	}
	if m.deps.Segments != nil {
		out.CacheSize = m.deps.Segments.Cache().Len()
	}
	httpapi.OK(w, out)
}

func (m *healthModule) capabilities(w http.ResponseWriter, r *http.Request) {
	type capability struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	httpapi.OK(w, []capability{
		{Name: "decode.segment", Description: "Decode protobuf segment replies into comments"},
		{Name: "decode.webview", Description: "Decode web-view metadata with both field layouts"},
		{Name: "decode.xml", Description: "Parse legacy XML comment documents"},
		{Name: "command.build", Description: "Turn interactive commands into overlay items"},
		{Name: "filter.pipeline", Description: "Type, keyword and plugin rule filtering"},
		{Name: "plugins", Description: "Install, import, test and share rule plugins"},
		{Name: "sync", Description: "Speed-aware playback resync cadence"},
		{Name: "occlusion", Description: "Face-aware display band and erase masks"},
		{Name: "sessions", Description: "Per-video sessions with websocket event push"},
		{Name: "live", Description: "Live room comment stream"},
		{Name: "auth.api_key", Description: "X-API-Key authentication"},
		{Name: "maintenance", Description: "SQLite compaction and WAL checkpoints"},
		{Name: "docs.openapi", Description: "OpenAPI document at /openapi.json"},
	})
}
