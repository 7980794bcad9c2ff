package app

import (
	"encoding/json"
	"strings"

	"danmakuoverlay/core/backend/router"
)

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{
		"application/json": map[string]any{"schema": schema},
	}
}

func buildOpenAPISpec(routes []router.Route) ([]byte, error) {
	envelope := map[string]any{"$ref": "#/components/schemas/ResultEnvelope"}
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		method := strings.ToLower(rt.Method)
		if method != "get" && method != "post" {
			continue
		}
		if _, ok := paths[rt.Pattern]; !ok {
			paths[rt.Pattern] = map[string]any{}
		}
		operation := map[string]any{
			"summary":     rt.Summary,
			"description": rt.Description,
			"operationId": buildOperationID(method, rt.Pattern),
			"tags":        []string{deriveRouteTag(rt.Pattern)},
			"responses": map[string]any{
				"200":     map[string]any{"description": "Success", "content": jsonContent(envelope)},
				"default": map[string]any{"description": "Error payload", "content": jsonContent(envelope)},
			},
		}
		if params := pathParameters(rt.Pattern); len(params) > 0 {
			operation["parameters"] = params
		}
		if method == "post" {
			operation["requestBody"] = map[string]any{
				"required": false,
				"content":  requestContent(rt.Pattern),
			}
		}
		if example := routeExample(method, rt.Pattern); example != nil && method == "post" {
			requestBody := operation["requestBody"].(map[string]any)
			content := requestBody["content"].(map[string]any)
			for _, media := range content {
				media.(map[string]any)["example"] = example
			}
		}
		paths[rt.Pattern][method] = operation
	}
	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "danmakud API",
			"version":     "0.1.0",
			"description": "Comment decoding, filtering, plugin rules, playback sync and face-aware occlusion.",
		},
		"servers": []map[string]any{{"url": "/"}},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"apiKey": map[string]any{"type": "apiKey", "in": "header", "name": "X-API-Key"},
			},
			"schemas": map[string]any{
				"ResultEnvelope": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"code":    map[string]any{"type": "integer", "example": 0},
						"message": map[string]any{"type": "string", "example": "Success"},
						"data":    map[string]any{"nullable": true},
					},
				},
			},
		},
	}
	return json.MarshalIndent(spec, "", "  ")
}

// requestContent declares raw protobuf bodies for the decode routes.
func requestContent(pattern string) map[string]any {
	switch {
	case strings.HasSuffix(pattern, "/decode/segment"), strings.HasSuffix(pattern, "/decode/webview"):
		return map[string]any{
			"application/x-protobuf": map[string]any{"schema": map[string]any{"type": "string", "format": "binary"}},
		}
	case strings.HasSuffix(pattern, "/decode/xml"):
		return map[string]any{
			"application/xml": map[string]any{"schema": map[string]any{"type": "string"}},
		}
	default:
		return jsonContent(map[string]any{"type": "object"})
	}
}

func pathParameters(pattern string) []map[string]any {
	var params []map[string]any
	for _, segment := range strings.Split(pattern, "/") {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			params = append(params, map[string]any{
				"name":     strings.Trim(segment, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return params
}

func buildOperationID(method string, pattern string) string {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, strings.ToLower(method))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		segment = strings.Trim(segment, "{}")
		segment = strings.ReplaceAll(segment, "-", "_")
		parts = append(parts, segment)
	}
	return strings.Join(parts, "_")
}

func deriveRouteTag(pattern string) string {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(segments) == 0 {
		return "general"
	}
	for idx, segment := range segments {
		if strings.HasPrefix(segment, "v") && idx+1 < len(segments) {
			return strings.ReplaceAll(segments[idx+1], "-", "_")
		}
	}
	if len(segments) >= 2 {
		return strings.ReplaceAll(segments[1], "-", "_")
	}
	return strings.ReplaceAll(segments[0], "-", "_")
}

func routeExample(method string, pattern string) map[string]any {
	idx := strings.Index(pattern, "/v1/")
	if idx >= 0 {
		pattern = pattern[idx+3:]
	}
	switch strings.ToUpper(method) + " " + pattern {
	case "POST /danmaku/command/build":
		return map[string]any{
			"commands": []map[string]any{
				{"id": 1, "command": "#ACTORVOTE#", "content": `{"text":"Vote now"}`, "progress": 12000},
			},
		}
	case "POST /danmaku/filter":
		return map[string]any{
			"items": []map[string]any{
				{"id": "1", "timestampMs": 1000, "content": "hello", "color": 16777215, "type": "scroll", "userId": "42"},
			},
			"blockedRules": "spoiler, regex:^ad",
		}
	case "POST /danmaku/filter/keywords/parse":
		return map[string]any{"text": "spoiler\nregex:^ad\n/[/"}
	case "POST /plugins/install":
		return map[string]any{
			"id":   "mute.spam",
			"name": "Mute spam",
			"type": "danmaku",
			"rules": []map[string]any{
				{"action": "hide", "condition": map[string]any{"field": "content", "op": "contains", "value": "spam"}},
			},
		}
	case "POST /plugins/import":
		return map[string]any{"url": "https://example.com/plugins/mute-spam.json"}
	case "POST /plugins/enable":
		return map[string]any{"id": "mute.spam", "enabled": false}
	case "POST /plugins/test":
		return map[string]any{"id": "mute.spam", "sample": map[string]any{"content": "spam here", "userId": "42"}}
	case "POST /sync/decision":
		return map[string]any{"speed": 1.5, "cycle": 3, "speedFactor": 1}
	case "POST /occlusion/band":
		return map[string]any{
			"regions":      []map[string]any{{"topRatio": 0.3, "bottomRatio": 0.7}},
			"viewHeightPx": 720,
			"fontSize":     25,
			"strokeWidth":  2,
		}
	case "POST /occlusion/content-rect":
		return map[string]any{"containerWidth": 1920, "containerHeight": 1080, "videoWidth": 1280, "videoHeight": 720, "mode": "fit"}
	case "POST /sessions":
		return map[string]any{"oid": 123456, "durationMs": 600000}
	case "POST /sessions/{id}/telemetry":
		return map[string]any{"positionMs": 15000, "speed": 1.25}
	case "POST /sessions/{id}/frame":
		return map[string]any{"regions": []map[string]any{{"topRatio": 0.2, "bottomRatio": 0.55}}}
	case "POST /auth/keys":
		return map[string]any{"name": "overlay", "description": "browser overlay"}
	default:
		return nil
	}
}
