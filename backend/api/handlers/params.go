package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"danmakuoverlay/core/backend/httpapi"
)

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseInt64Query(r *http.Request, key string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get(key)), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

type idRequest struct {
	ID string `json:"id"`
}

func decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req idRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return "", false
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		httpapi.BadRequest(w, errors.New("id is required"))
		return "", false
	}
	return id, true
}
