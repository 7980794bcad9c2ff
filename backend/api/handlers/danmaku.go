package handlers

import (
	"bytes"
	"net/http"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/filter"
	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/protocol"
	"danmakuoverlay/core/backend/router"
)

type danmakuModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &danmakuModule{deps: deps}
	})
}

func (m *danmakuModule) Prefix() string {
	return m.deps.Config.APIBase + "/danmaku"
}

func (m *danmakuModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/decode/segment", Summary: "Decode a segment reply", Description: "Body is the raw protobuf reply.", Handler: m.decodeSegment},
		{Method: http.MethodPost, Pattern: "/decode/webview", Summary: "Decode a web-view reply", Description: "Body is the raw protobuf reply.", Handler: m.decodeWebView},
		{Method: http.MethodPost, Pattern: "/decode/xml", Summary: "Parse a legacy XML comment document", Handler: m.decodeXML},
		{Method: http.MethodPost, Pattern: "/command/build", Summary: "Build overlay items from commands", Handler: m.buildCommands},
		{Method: http.MethodPost, Pattern: "/filter", Summary: "Run items through the filter pipeline", Handler: m.filter},
		{Method: http.MethodPost, Pattern: "/filter/keywords/parse", Summary: "Parse keyword rule text", Handler: m.parseKeywords},
	}
}

type decodedItems struct {
	Items []danmaku.Item `json:"items"`
	Count int            `json:"count"`
	Error string         `json:"error,omitempty"`
}

func (m *danmakuModule) decodeSegment(w http.ResponseWriter, r *http.Request) {
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	items, err := protocol.DecodeSegmentItems(body)
	out := decodedItems{Items: items, Count: len(items)}
	if err != nil {
		// partial pages are still useful to the caller
		out.Error = err.Error()
	}
	httpapi.OK(w, out)
}

func (m *danmakuModule) decodeWebView(w http.ResponseWriter, r *http.Request) {
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	reply, err := protocol.DecodeWebView(body)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	payload := map[string]any{
		"reply":        reply,
		"commandItems": danmaku.BuildCommands(reply.CommandDms),
	}
	if reply.DmSetting != nil {
		payload["typeFilter"] = filter.FromDmSetting(*reply.DmSetting)
	}
	httpapi.OK(w, payload)
}

func (m *danmakuModule) decodeXML(w http.ResponseWriter, r *http.Request) {
	body, err := httpapi.ReadBody(r)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	items, err := protocol.ParseXMLItems(bytes.NewReader(body))
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, decodedItems{Items: items, Count: len(items)})
}

func (m *danmakuModule) buildCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Commands []danmaku.CommandDm `json:"commands"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	items := danmaku.BuildCommands(req.Commands)
	httpapi.OK(w, map[string]any{
		"items":   items,
		"skipped": len(req.Commands) - len(items),
	})
}

func (m *danmakuModule) filter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items        []danmaku.Item       `json:"items"`
		Types        *filter.TypeSettings `json:"types"`
		BlockedRules *string              `json:"blockedRules"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	cfg := m.deps.Config
	if m.deps.ConfigMgr != nil {
		cfg = m.deps.ConfigMgr.Current()
	}
	pipeline := filter.NewPipeline(nil)
	if m.deps.Plugins != nil {
		pipeline = filter.NewPipeline(m.deps.Plugins.RuleSet())
	}
	types := cfg.TypeFilter
	if req.Types != nil {
		types = *req.Types
	}
	rules := cfg.BlockedRules
	if req.BlockedRules != nil {
		rules = *req.BlockedRules
	}
	pipeline.SetTypes(types)
	pipeline.SetKeywords(filter.ParseRules(rules))
	httpapi.OK(w, pipeline.Apply(req.Items))
}

func (m *danmakuModule) parseKeywords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	type parsedRule struct {
		Rule  string `json:"rule"`
		Valid bool   `json:"valid"`
	}
	parsed := filter.ParseRules(req.Text)
	out := make([]parsedRule, 0, len(parsed))
	for _, rule := range parsed {
		_, ok := filter.ResolveMatcher(rule)
		out = append(out, parsedRule{Rule: rule, Valid: ok})
	}
	httpapi.OK(w, out)
}
