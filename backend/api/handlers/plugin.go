package handlers

import (
	"errors"
	"net/http"
	"strings"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
	"danmakuoverlay/core/backend/rules"
	pluginsvc "danmakuoverlay/core/backend/service/plugin"
)

type pluginModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &pluginModule{deps: deps}
	})
}

func (m *pluginModule) Prefix() string {
	return m.deps.Config.APIBase + "/plugins"
}

func (m *pluginModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "", Summary: "List installed plugins", Handler: m.list},
		{Method: http.MethodPost, Pattern: "/install", Summary: "Install a plugin document", Description: "Body is the plugin JSON document.", Handler: m.install},
		{Method: http.MethodPost, Pattern: "/import", Summary: "Import a plugin from an http(s) url", Handler: m.importURL},
		{Method: http.MethodPost, Pattern: "/preview", Summary: "Validate a plugin document without installing it", Handler: m.preview},
		{Method: http.MethodPost, Pattern: "/remove", Summary: "Remove a plugin", Handler: m.remove},
		{Method: http.MethodPost, Pattern: "/enable", Summary: "Enable or disable a plugin", Handler: m.enable},
		{Method: http.MethodPost, Pattern: "/update", Summary: "Replace an installed plugin document", Handler: m.update},
		{Method: http.MethodPost, Pattern: "/test", Summary: "Run a plugin against a sample comment", Handler: m.test},
		{Method: http.MethodGet, Pattern: "/stats", Summary: "Per-plugin hide and highlight counters", Handler: m.stats},
		{Method: http.MethodPost, Pattern: "/stats/reset", Summary: "Reset plugin counters", Handler: m.resetStats},
		{Method: http.MethodGet, Pattern: "/{id}", Summary: "Get one plugin", Handler: m.get},
		{Method: http.MethodGet, Pattern: "/{id}/qrcode", Summary: "Share a plugin as a QR code PNG", Handler: m.qrcode},
	}
}

func (m *pluginModule) available(w http.ResponseWriter) bool {
	if m.deps.Plugins == nil {
		httpapi.Error(w, -1, "plugin service not available", http.StatusOK)
		return false
	}
	return true
}

// changed reruns filtering in open sessions after the installed set moved.
func (m *pluginModule) changed() {
	if m.deps.Sessions != nil {
		m.deps.Sessions.RefilterAll()
	}
}

func writePluginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pluginsvc.ErrPluginNotFound):
		httpapi.NotFound(w, err.Error())
	case errors.Is(err, rules.ErrInvalidPlugin), errors.Is(err, rules.ErrInvalidCondition), errors.Is(err, pluginsvc.ErrUnsupportedURL):
		httpapi.BadRequest(w, err)
	default:
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
	}
}

func (m *pluginModule) list(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	records, err := m.deps.Plugins.List(r.Context())
	if err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OK(w, records)
}

func (m *pluginModule) get(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	record, err := m.deps.Plugins.Get(r.Context(), pathID(r))
	if err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"plugin": record, "document": record.Document})
}

func (m *pluginModule) install(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	record, err := m.deps.Plugins.Install(r.Context(), body)
	if err != nil {
		writePluginError(w, err)
		return
	}
	m.changed()
	httpapi.OK(w, record)
}

func (m *pluginModule) update(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	record, err := m.deps.Plugins.Update(r.Context(), body)
	if err != nil {
		writePluginError(w, err)
		return
	}
	m.changed()
	httpapi.OK(w, record)
}

func (m *pluginModule) importURL(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		httpapi.BadRequest(w, errors.New("url is required"))
		return
	}
	record, err := m.deps.Plugins.ImportFromURL(r.Context(), req.URL)
	if err != nil {
		writePluginError(w, err)
		return
	}
	m.changed()
	httpapi.OK(w, record)
}

func (m *pluginModule) preview(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	plugin, err := m.deps.Plugins.Preview(body)
	if err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OK(w, plugin)
}

func (m *pluginModule) remove(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	if err := m.deps.Plugins.Remove(r.Context(), id); err != nil {
		writePluginError(w, err)
		return
	}
	m.changed()
	httpapi.OKMessage(w, "removed")
}

func (m *pluginModule) enable(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	var req struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if err := m.deps.Plugins.SetEnabled(r.Context(), req.ID, req.Enabled); err != nil {
		writePluginError(w, err)
		return
	}
	m.changed()
	httpapi.OK(w, map[string]any{"id": req.ID, "enabled": req.Enabled})
}

func (m *pluginModule) test(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	var req struct {
		ID     string         `json:"id"`
		Sample map[string]any `json:"sample"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	result, err := m.deps.Plugins.TestRules(r.Context(), req.ID, rules.FieldMap(req.Sample))
	if err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OK(w, result)
}

func (m *pluginModule) stats(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	stats, err := m.deps.Plugins.Stats(r.Context())
	if err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OK(w, stats)
}

func (m *pluginModule) resetStats(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	var req idRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	// an empty id resets every plugin
	if err := m.deps.Plugins.ResetStats(r.Context(), strings.TrimSpace(req.ID)); err != nil {
		writePluginError(w, err)
		return
	}
	httpapi.OKMessage(w, "reset")
}

func (m *pluginModule) qrcode(w http.ResponseWriter, r *http.Request) {
	if !m.available(w) {
		return
	}
	png, err := m.deps.Plugins.ShareQR(r.Context(), pathID(r))
	if err != nil {
		writePluginError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
