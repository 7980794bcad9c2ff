package handlers

import (
	"bufio"
	"net/http"
	"os"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
)

const maxTailLines = 2000

type logModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &logModule{deps: deps}
	})
}

func (m *logModule) Prefix() string {
	return m.deps.Config.APIBase + "/logs"
}

func (m *logModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/debug", Summary: "Tail the debug log file", Description: "Query: lines (default 200).", Handler: m.debugLogs},
	}
}

func (m *logModule) debugLogs(w http.ResponseWriter, r *http.Request) {
	path := ""
	if m.deps.Logs != nil {
		path = m.deps.Logs.Path()
	}
	if path == "" {
		httpapi.OK(w, map[string]any{"enabled": false, "lines": []string{}})
		return
	}
	limit := min(parseIntOrDefault(r.URL.Query().Get("lines"), 200), maxTailLines)
	lines, err := tailFile(path, limit)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, map[string]any{"enabled": true, "path": path, "lines": lines})
}

func tailFile(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ring := make([]string, 0, limit)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}
