package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"danmakuoverlay/core/backend/config"
	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
)

type runtimeConfigModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &runtimeConfigModule{deps: deps}
	})
}

func (m *runtimeConfigModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *runtimeConfigModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/config", Summary: "Get runtime config", Handler: m.getConfig},
		{Method: http.MethodPost, Pattern: "/config", Summary: "Save runtime config and hot reload", Description: "Body is a partial config; omitted keys keep their value.", Handler: m.saveConfig},
		{Method: http.MethodPost, Pattern: "/config/reload", Summary: "Reload config from file", Handler: m.reloadConfig},
	}
}

func (m *runtimeConfigModule) getConfig(w http.ResponseWriter, r *http.Request) {
	if m.deps.ConfigMgr == nil {
		httpapi.Error(w, -1, "config manager not available", http.StatusOK)
		return
	}
	cfg := m.deps.ConfigMgr.Current()
	httpapi.OK(w, map[string]any{
		"config":         cfg,
		"configFile":     cfg.ConfigFile,
		"hotReloadNotes": runtimeHotReloadNotes(),
	})
}

func (m *runtimeConfigModule) saveConfig(w http.ResponseWriter, r *http.Request) {
	if m.deps.ConfigMgr == nil {
		httpapi.Error(w, -1, "config manager not available", http.StatusOK)
		return
	}
	oldCfg := m.deps.ConfigMgr.Current()
	nextCfg, err := decodeConfigPatch(r, oldCfg)
	if err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	saved, err := m.deps.ConfigMgr.Save(nextCfg)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	m.respondSaved(w, oldCfg, saved)
}

func (m *runtimeConfigModule) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if m.deps.ConfigMgr == nil {
		httpapi.Error(w, -1, "config manager not available", http.StatusOK)
		return
	}
	oldCfg := m.deps.ConfigMgr.Current()
	cfg, err := m.deps.ConfigMgr.ReloadFromDisk()
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	m.respondSaved(w, oldCfg, cfg)
}

func (m *runtimeConfigModule) respondSaved(w http.ResponseWriter, oldCfg config.Config, cfg config.Config) {
	restartFields := restartRequiredChangedFields(oldCfg, cfg)
	httpapi.OK(w, map[string]any{
		"config":          cfg,
		"configFile":      cfg.ConfigFile,
		"requiresRestart": len(restartFields) > 0,
		"restartFields":   restartFields,
		"hotReloadNotes":  runtimeHotReloadNotes(),
	})
}

// decodeConfigPatch overlays the request body on base. Nested objects such
// as typeFilter and occlusion merge field by field.
func decodeConfigPatch(r *http.Request, base config.Config) (config.Config, error) {
	body, err := httpapi.ReadBody(r)
	if err != nil {
		return base, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return base, errors.New("empty config patch")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return base, fmt.Errorf("invalid json body: %w", err)
	}
	if _, ok := probe["configFile"]; ok {
		return base, errors.New("configFile cannot be changed at runtime")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&base); err != nil {
		return base, fmt.Errorf("invalid json body: %w", err)
	}
	if _, ok := probe["debugMode"]; ok {
		base.EnableDebugLogs = base.DebugMode
	}
	return base, nil
}

func restartRequiredChangedFields(oldCfg config.Config, newCfg config.Config) []string {
	result := make([]string, 0, 4)
	appendIfChanged := func(name string, oldValue string, newValue string) {
		if strings.TrimSpace(oldValue) != strings.TrimSpace(newValue) {
			result = append(result, name)
		}
	}
	appendIfChanged("listenAddr", oldCfg.ListenAddr, newCfg.ListenAddr)
	appendIfChanged("apiBase", oldCfg.APIBase, newCfg.APIBase)
	appendIfChanged("dataDir", oldCfg.DataDir, newCfg.DataDir)
	appendIfChanged("dbPath", oldCfg.DBPath, newCfg.DBPath)
	appendIfChanged("allowOrigin", oldCfg.AllowOrigin, newCfg.AllowOrigin)
	return result
}

func runtimeHotReloadNotes() []string {
	return []string{
		"typeFilter, blockedRules, smartOcclusion, displayAreaRatio and occlusion apply to open sessions immediately.",
		"Segment urls, parallelism and cache limits apply to the next fetch.",
		"liveWsUrl and liveHeartbeatSec apply to live sessions opened afterwards.",
		"debugMode/enableDebugLogs toggle data/log file logging.",
		"apiKeyRequired applies to the next request.",
		"maintenanceIntervalMin applies after restart.",
		"listenAddr, apiBase, dataDir, dbPath and allowOrigin require a restart.",
	}
}
