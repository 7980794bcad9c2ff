package handlers

import (
	"net/http"

	"danmakuoverlay/core/backend/httpapi"
	"danmakuoverlay/core/backend/occlusion"
	"danmakuoverlay/core/backend/playback"
	"danmakuoverlay/core/backend/router"
)

type playbackModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &playbackModule{deps: deps}
	})
}

func (m *playbackModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *playbackModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/sync/decision", Summary: "Resync cadence for a playback speed", Handler: m.syncDecision},
		{Method: http.MethodPost, Pattern: "/occlusion/band", Summary: "Face-aware display band and lane layout", Handler: m.band},
		{Method: http.MethodPost, Pattern: "/occlusion/masks", Summary: "Occlusion masks from face rects or a detector frame", Handler: m.masks},
		{Method: http.MethodPost, Pattern: "/occlusion/content-rect", Summary: "On-screen video content rectangle", Handler: m.contentRect},
	}
}

func (m *playbackModule) syncDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed       float64 `json:"speed"`
		Cycle       int     `json:"cycle"`
		SpeedFactor float64 `json:"speedFactor"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	if req.Speed <= 0 {
		req.Speed = 1
	}
	httpapi.OK(w, map[string]any{
		"normalSpeed":  playback.IsNormalSpeed(req.Speed),
		"intervalMs":   playback.ResyncInterval(req.Speed).Milliseconds(),
		"forceResync":  playback.ShouldForceResync(req.Speed, req.Cycle),
		"scrollMoveMs": playback.ScrollMoveTime(req.SpeedFactor, req.Speed).Milliseconds(),
	})
}

func (m *playbackModule) currentSmartOcclusion() (bool, float64) {
	cfg := m.deps.Config
	if m.deps.ConfigMgr != nil {
		cfg = m.deps.ConfigMgr.Current()
	}
	return cfg.SmartOcclusion, cfg.DisplayAreaRatio
}

func (m *playbackModule) band(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Regions        []occlusion.Region     `json:"regions"`
		DefaultBand    *occlusion.Band        `json:"defaultBand"`
		Options        *occlusion.BandOptions `json:"options"`
		SmartOcclusion *bool                  `json:"smartOcclusion"`
		DisplayArea    float64                `json:"displayArea"`
		ViewHeightPx   float64                `json:"viewHeightPx"`
		FontSize       float64                `json:"fontSize"`
		StrokeWidth    float64                `json:"strokeWidth"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	defaultBand := occlusion.Band{Top: 0, Bottom: 1}
	if req.DefaultBand != nil {
		defaultBand = req.DefaultBand.Normalized()
	}
	opts := occlusion.DefaultBandOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	smart, area := m.currentSmartOcclusion()
	if req.SmartOcclusion != nil {
		smart = *req.SmartOcclusion
	}
	if req.DisplayArea > 0 {
		area = req.DisplayArea
	}

	band := occlusion.ResolveFaceAwareDisplayBand(req.Regions, defaultBand, opts)
	active := occlusion.ResolveActiveDisplayBand(smart, band, area)
	payload := map[string]any{
		"band":            band,
		"active":          active,
		"minVisibleLines": occlusion.MinimumVisibleLines(active.Height()),
		"maxLines":        occlusion.FallbackMaxLines(active.Height()),
	}
	if req.ViewHeightPx > 0 {
		payload["lanes"] = occlusion.ResolveLaneLayout(active, req.ViewHeightPx, req.FontSize, req.StrokeWidth)
	}
	httpapi.OK(w, payload)
}

type projection struct {
	ContainerWidth  int                  `json:"containerWidth"`
	ContainerHeight int                  `json:"containerHeight"`
	VideoWidth      int                  `json:"videoWidth"`
	VideoHeight     int                  `json:"videoHeight"`
	Mode            occlusion.ResizeMode `json:"mode"`
}

func (m *playbackModule) masks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rects         []occlusion.Rect             `json:"rects"`
		Detection     *occlusion.DetectionFrame    `json:"detection"`
		Options       *occlusion.MaskOptions       `json:"options"`
		VisualOptions *occlusion.VisualMaskOptions `json:"visualOptions"`
		Project       *projection                  `json:"project"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	maskOpts := occlusion.DefaultMaskOptions()
	if req.Options != nil {
		maskOpts = *req.Options
	}
	visualOpts := occlusion.DefaultVisualMaskOptions()
	if req.VisualOptions != nil {
		visualOpts = *req.VisualOptions
	}

	var detection occlusion.Detection
	if req.Detection != nil {
		detection = occlusion.ConvertFrame(*req.Detection, maskOpts, visualOpts)
	} else {
		detection.MaskRects = occlusion.ResolveFaceOcclusionMasks(req.Rects, maskOpts)
		for _, rect := range detection.MaskRects {
			detection.VisualMasks = append(detection.VisualMasks, occlusion.BuildVisualMask(rect, nil, visualOpts))
			detection.Regions = append(detection.Regions, occlusion.Region{Top: rect.Top, Bottom: rect.Bottom})
		}
	}
	payload := map[string]any{"detection": detection}
	if req.Project != nil {
		p := req.Project
		payload["pixelMasks"] = occlusion.ProjectMasks(detection.VisualMasks, p.ContainerWidth, p.ContainerHeight, p.VideoWidth, p.VideoHeight, p.Mode)
	}
	httpapi.OK(w, payload)
}

func (m *playbackModule) contentRect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		projection
		FeatherPx *float64 `json:"featherPx"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, err)
		return
	}
	feather := float64(occlusion.DefaultFeatherPx)
	if req.FeatherPx != nil {
		feather = *req.FeatherPx
	}
	viewport := occlusion.ResolveVideoContentRect(req.ContainerWidth, req.ContainerHeight, req.VideoWidth, req.VideoHeight, req.Mode)
	edge := occlusion.ResolveMaskEdgeExpansionRatio(viewport.Width(), viewport.Height(), feather, occlusion.DefaultMinEdgeRatio, occlusion.DefaultMaxEdgeRatio)
	httpapi.OK(w, map[string]any{
		"viewport":           viewport,
		"mode":               req.Mode,
		"edgeExpansionRatio": edge,
	})
}
