package handlers

import (
	"errors"
	"net/http"
	"strings"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
)

type authModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &authModule{deps: deps}
	})
}

func (m *authModule) Prefix() string {
	return m.deps.Config.APIBase + "/auth"
}

func (m *authModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/keys", Summary: "Create API key", Description: "The plain key is only returned once.", Handler: m.createKey},
		{Method: http.MethodGet, Pattern: "/keys", Summary: "List API keys", Handler: m.listKeys},
		{Method: http.MethodPost, Pattern: "/keys/delete", Summary: "Delete API key", Handler: m.deleteKey},
		{Method: http.MethodGet, Pattern: "/status", Summary: "Check auth status", Handler: m.status},
	}
}

func (m *authModule) createKey(w http.ResponseWriter, r *http.Request) {
	if m.deps.Auth == nil {
		httpapi.Error(w, -1, "auth service not configured", http.StatusInternalServerError)
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpapi.BadRequest(w, errors.New("name is required"))
		return
	}
	created, err := m.deps.Auth.CreateKey(r.Context(), req.Name, req.Description)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, created)
}

func (m *authModule) listKeys(w http.ResponseWriter, r *http.Request) {
	if m.deps.Auth == nil {
		httpapi.OK(w, []any{})
		return
	}
	keys, err := m.deps.Auth.ListKeys(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, keys)
}

func (m *authModule) deleteKey(w http.ResponseWriter, r *http.Request) {
	if m.deps.Auth == nil {
		httpapi.Error(w, -1, "auth service not configured", http.StatusInternalServerError)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	deleted, err := m.deps.Auth.DeleteKey(r.Context(), req.Name)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	if !deleted {
		httpapi.NotFound(w, "api key not found")
		return
	}
	httpapi.OKMessage(w, "deleted")
}

func (m *authModule) status(w http.ResponseWriter, r *http.Request) {
	required := m.deps.Config.APIKeyRequired
	if m.deps.ConfigMgr != nil {
		required = m.deps.ConfigMgr.Current().APIKeyRequired
	}
	payload := map[string]any{"required": required, "authenticated": !required}
	if key := httpapi.APIKeyFromContext(r.Context()); key != nil {
		payload["authenticated"] = true
		payload["key"] = map[string]any{"name": key.Name, "prefix": key.Prefix}
	}
	httpapi.OK(w, payload)
}
