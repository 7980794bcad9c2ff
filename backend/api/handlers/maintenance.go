package handlers

import (
	"net/http"
	"strings"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/router"
	"danmakuoverlay/core/backend/service/maintenance"
)

type maintenanceModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &maintenanceModule{deps: deps}
	})
}

func (m *maintenanceModule) Prefix() string {
	return m.deps.Config.APIBase + "/maintenance"
}

func (m *maintenanceModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/status", Summary: "Get maintenance runtime status", Handler: m.status},
		{Method: http.MethodPost, Pattern: "/compact", Summary: "Prune idle plugin stats and vacuum", Handler: m.queue(maintenance.JobTypeCompact)},
		{Method: http.MethodPost, Pattern: "/vacuum", Summary: "Queue sqlite vacuum", Handler: m.queue(maintenance.JobTypeVacuum)},
		{Method: http.MethodPost, Pattern: "/checkpoint", Summary: "Queue WAL checkpoint", Handler: m.queue(maintenance.JobTypeCheckpoint)},
		{Method: http.MethodPost, Pattern: "/cancel", Summary: "Cancel current maintenance job", Handler: m.cancelCurrent},
	}
}

func (m *maintenanceModule) status(w http.ResponseWriter, r *http.Request) {
	if m.deps.Maintenance == nil {
		httpapi.Error(w, -1, "maintenance service not available", http.StatusOK)
		return
	}
	status, err := m.deps.Maintenance.Status(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, status)
}

func (m *maintenanceModule) queue(jobType maintenance.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.deps.Maintenance == nil {
			httpapi.Error(w, -1, "maintenance service not available", http.StatusOK)
			return
		}
		jobID, err := m.deps.Maintenance.Queue(jobType, "manual")
		if err != nil {
			httpapi.Error(w, -1, err.Error(), http.StatusOK)
			return
		}
		httpapi.OK(w, map[string]string{"jobId": jobID})
	}
}

func (m *maintenanceModule) cancelCurrent(w http.ResponseWriter, r *http.Request) {
	if m.deps.Maintenance == nil {
		httpapi.Error(w, -1, "maintenance service not available", http.StatusOK)
		return
	}
	var req struct {
		JobID string `json:"jobId"`
	}
	if r.ContentLength > 0 {
		if err := httpapi.DecodeJSON(r, &req); err != nil {
			httpapi.BadRequest(w, err)
			return
		}
	} else {
		req.JobID = strings.TrimSpace(r.URL.Query().Get("jobId"))
	}
	cancelled, err := m.deps.Maintenance.CancelCurrent(req.JobID)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	if !cancelled {
		httpapi.Error(w, 1, "no running maintenance job", http.StatusOK)
		return
	}
	httpapi.OK(w, map[string]string{"jobId": strings.TrimSpace(req.JobID)})
}
