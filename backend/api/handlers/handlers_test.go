package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protowire"

	"danmakuoverlay/core/backend/config"
	"danmakuoverlay/core/backend/router"
	authsvc "danmakuoverlay/core/backend/service/auth"
	"danmakuoverlay/core/backend/service/maintenance"
	pluginsvc "danmakuoverlay/core/backend/service/plugin"
	"danmakuoverlay/core/backend/service/segment"
	"danmakuoverlay/core/backend/service/session"
	"danmakuoverlay/core/backend/store"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	cfgMgr  *config.Manager
	base    string
}

func segmentPage() []byte {
	var page []byte
	for i, content := range []string{"first", "second spoiler", "third"} {
		var elem []byte
		elem = protowire.AppendTag(elem, 1, protowire.VarintType)
		elem = protowire.AppendVarint(elem, uint64(i+1))
		elem = protowire.AppendTag(elem, 2, protowire.VarintType)
		elem = protowire.AppendVarint(elem, uint64((i+1)*1000))
		elem = protowire.AppendTag(elem, 7, protowire.BytesType)
		elem = protowire.AppendString(elem, content)
		page = protowire.AppendTag(page, 1, protowire.BytesType)
		page = protowire.AppendBytes(page, elem)
	}
	return page
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/seg.so" || r.URL.Query().Get("segment_index") != "1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(segmentPage())
	}))
	t.Cleanup(origin.Close)

	dir := t.TempDir()
	cfgMgr, err := config.NewManagerAt(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg := cfgMgr.Current()
	storeDB, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = storeDB.Close() })

	plugins := pluginsvc.New(storeDB, pluginsvc.Options{})
	if err := plugins.Init(context.Background()); err != nil {
		t.Fatalf("init plugins: %v", err)
	}
	t.Cleanup(func() { plugins.Shutdown(context.Background()) })
	fetcher := segment.New(segment.Options{
		WebViewURL:  origin.URL + "/view",
		SegmentURL:  origin.URL + "/seg.so",
		XMLBaseURL:  origin.URL + "/xml",
		Parallelism: 2,
		HTTPClient:  origin.Client(),
	})
	sessions := session.NewManager(fetcher, plugins.RuleSet(), plugins, cfg)
	t.Cleanup(sessions.Shutdown)
	cfgMgr.AddListener(sessions.ApplyConfig)
	maint := maintenance.New(storeDB, time.Hour)
	maint.Start()
	t.Cleanup(maint.Stop)

	handler, _ := router.Build(&router.Dependencies{
		Config:      cfg,
		ConfigMgr:   cfgMgr,
		Store:       storeDB,
		Auth:        authsvc.New(storeDB),
		Plugins:     plugins,
		Segments:    fetcher,
		Sessions:    sessions,
		Maintenance: maint,
	})
	return &testServer{handler: handler, cfgMgr: cfgMgr, base: cfg.APIBase}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, s.base+path, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode envelope: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

const highlightPlugin = `{
	"id": "mark.first",
	"name": "Mark first",
	"type": "danmaku",
	"rules": [{"action": "highlight", "condition": {"field": "content", "op": "eq", "value": "first"}, "style": {"color": "#FF0000"}}]
}`

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/health", nil, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("health: %d %+v", status, env)
	}
}

func TestFilterAndKeywordRoutes(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/danmaku/filter", map[string]any{
		"items": []map[string]any{
			{"id": "1", "timestampMs": 1000, "content": "keep me", "color": 16777215, "type": "scroll"},
			{"id": "2", "timestampMs": 2000, "content": "big SPOILER", "color": 16777215, "type": "scroll"},
		},
		"blockedRules": "spoiler",
	}, nil)
	var result struct {
		Items           []map[string]any `json:"items"`
		HiddenByKeyword int              `json:"hiddenByKeyword"`
	}
	decodeData(t, env, &result)
	if len(result.Items) != 1 || result.HiddenByKeyword != 1 {
		t.Fatalf("unexpected filter result: %+v", result)
	}

	_, env = s.do(t, http.MethodPost, "/danmaku/filter/keywords/parse", map[string]string{"text": "a, b\n/[/"}, nil)
	var parsed []struct {
		Rule  string `json:"rule"`
		Valid bool   `json:"valid"`
	}
	decodeData(t, env, &parsed)
	if len(parsed) != 3 || !parsed[0].Valid || parsed[2].Valid {
		t.Fatalf("unexpected parsed rules: %+v", parsed)
	}
}

func TestDecodeSegmentRoute(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/danmaku/decode/segment", segmentPage(), nil)
	var out struct {
		Count int    `json:"count"`
		Error string `json:"error"`
	}
	decodeData(t, env, &out)
	if out.Count != 3 || out.Error != "" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestPluginRoutes(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/plugins/install", highlightPlugin, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("install: %d %+v", status, env)
	}
	status, _ = s.do(t, http.MethodPost, "/plugins/install", `{"id":"bad id","name":"x","type":"danmaku","rules":[]}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("invalid document should be rejected, got %d", status)
	}

	_, env = s.do(t, http.MethodGet, "/plugins", nil, nil)
	var records []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	decodeData(t, env, &records)
	if len(records) != 1 || records[0].ID != "mark.first" {
		t.Fatalf("unexpected plugin list: %+v", records)
	}

	_, env = s.do(t, http.MethodPost, "/plugins/test", map[string]any{"id": "mark.first", "sample": map[string]any{"content": "first"}}, nil)
	var verdict struct {
		Visible bool            `json:"visible"`
		Style   json.RawMessage `json:"style"`
	}
	decodeData(t, env, &verdict)
	if !verdict.Visible || len(verdict.Style) == 0 {
		t.Fatalf("sample should be highlighted: %+v", verdict)
	}

	req := httptest.NewRequest(http.MethodGet, s.base+"/plugins/mark.first/qrcode", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("qrcode should be a png, got %q", rec.Header().Get("Content-Type"))
	}

	status, _ = s.do(t, http.MethodPost, "/plugins/enable", map[string]any{"id": "missing", "enabled": true}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("enable unknown plugin: %d", status)
	}
	status, _ = s.do(t, http.MethodPost, "/plugins/remove", map[string]any{"id": "mark.first"}, nil)
	if status != http.StatusOK {
		t.Fatalf("remove: %d", status)
	}
}

func TestSyncAndOcclusionRoutes(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/sync/decision", map[string]any{"speed": 2, "cycle": 3}, nil)
	var decision struct {
		IntervalMs  int64 `json:"intervalMs"`
		ForceResync bool  `json:"forceResync"`
	}
	decodeData(t, env, &decision)
	if decision.IntervalMs != 900 || !decision.ForceResync {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	_, env = s.do(t, http.MethodPost, "/occlusion/content-rect", map[string]any{
		"containerWidth": 1920, "containerHeight": 1080, "videoWidth": 1000, "videoHeight": 1000, "mode": "fit",
	}, nil)
	var rect struct {
		Viewport struct {
			Left, Top, Right, Bottom float64
		} `json:"viewport"`
	}
	decodeData(t, env, &rect)
	if rect.Viewport.Left != 420 || rect.Viewport.Right != 1500 || rect.Viewport.Bottom != 1080 {
		t.Fatalf("square video should be pillarboxed: %+v", rect.Viewport)
	}

	status, _ := s.do(t, http.MethodPost, "/occlusion/band", map[string]any{"regions": []any{}, "unknown": 1}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown fields should be rejected, got %d", status)
	}
}

func TestSessionRoutesAndEvents(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/sessions", map[string]any{"oid": 7}, nil)
	var created struct {
		ID      string `json:"id"`
		Summary struct {
			Total int `json:"total"`
		} `json:"summary"`
	}
	decodeData(t, env, &created)
	if created.ID == "" || created.Summary.Total != 3 {
		t.Fatalf("unexpected session: %+v", created)
	}

	srv := httptest.NewServer(s.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + s.base + "/sessions/" + created.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first session.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if first.Kind != session.EventLoaded {
		t.Fatalf("first event should be loaded, got %s", first.Kind)
	}

	_, env = s.do(t, http.MethodPost, "/sessions/"+created.ID+"/telemetry", map[string]any{"positionMs": 2500, "speed": 1}, nil)
	var tick struct {
		Due []map[string]any `json:"due"`
	}
	decodeData(t, env, &tick)
	if len(tick.Due) != 2 {
		t.Fatalf("expected two due items, got %+v", tick.Due)
	}
	var items session.Event
	if err := conn.ReadJSON(&items); err != nil || items.Kind != session.EventItems || len(items.Items) != 2 {
		t.Fatalf("expected items event: %+v %v", items, err)
	}

	status, _ := s.do(t, http.MethodPost, "/sessions/"+created.ID+"/close", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("close: %d", status)
	}
	status, _ = s.do(t, http.MethodPost, "/sessions/"+created.ID+"/telemetry", map[string]any{"positionMs": 1}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("closed session should be gone, got %d", status)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.cfgMgr.Update(func(cfg *config.Config) { cfg.APIKeyRequired = true }); err != nil {
		t.Fatalf("update config: %v", err)
	}
	status, _ := s.do(t, http.MethodGet, "/plugins", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing key should be rejected, got %d", status)
	}
	status, _ = s.do(t, http.MethodGet, "/health", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("health stays open, got %d", status)
	}

	_, env := s.do(t, http.MethodPost, "/auth/keys", map[string]string{"name": "overlay"}, nil)
	var created struct {
		Key string `json:"key"`
	}
	decodeData(t, env, &created)
	if created.Key == "" {
		t.Fatalf("first key should be created without auth: %+v", env)
	}

	status, _ = s.do(t, http.MethodPost, "/auth/keys", map[string]string{"name": "second"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("later keys need auth, got %d", status)
	}
	status, _ = s.do(t, http.MethodGet, "/plugins", nil, http.Header{"X-Api-Key": []string{created.Key}})
	if status != http.StatusOK {
		t.Fatalf("valid key should pass, got %d", status)
	}
}

func TestMaintenanceRoutes(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodPost, "/maintenance/vacuum", nil, nil)
	if status != http.StatusOK || env.Code != 0 {
		t.Fatalf("vacuum: %d %+v", status, env)
	}
	var queued struct {
		JobID string `json:"jobId"`
	}
	decodeData(t, env, &queued)
	if !strings.HasPrefix(queued.JobID, "vacuum-") {
		t.Fatalf("unexpected job id: %q", queued.JobID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, env = s.do(t, http.MethodGet, "/maintenance/status", nil, nil)
		var st maintenance.Status
		decodeData(t, env, &st)
		if len(st.History) == 1 {
			if st.History[0].ID != queued.JobID || st.History[0].Status != "succeeded" {
				t.Fatalf("unexpected job: %+v", st.History[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("vacuum job did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	_, env = s.do(t, http.MethodPost, "/maintenance/cancel", nil, nil)
	if env.Code != 1 {
		t.Fatalf("cancel without running job: %+v", env)
	}
}
