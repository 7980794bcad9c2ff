package occlusion

import (
	"encoding/json"
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) <= 0.001
}

func bandNear(a, b Band) bool {
	return near(a.Top, b.Top) && near(a.Bottom, b.Bottom)
}

var halfBand = Band{Top: 0, Bottom: 0.5}

func TestFaceAwareBand(t *testing.T) {
	if got := ResolveFaceAwareDisplayBand(nil, halfBand, DefaultBandOptions()); got != halfBand {
		t.Fatalf("no faces: got %+v", got)
	}

	got := ResolveFaceAwareDisplayBand(
		[]Region{{Top: 0.06, Bottom: 0.62}},
		halfBand,
		BandOptions{MinHeightRatio: 0.2, FacePaddingRatio: 0.02},
	)
	if got.Top < 0.60 || got.Bottom > 1 {
		t.Fatalf("expected band below the face, got %+v", got)
	}

	got = ResolveFaceAwareDisplayBand(
		[]Region{{Top: 0.02, Bottom: 0.98}},
		halfBand,
		BandOptions{MinHeightRatio: 0.2},
	)
	if got != halfBand {
		t.Fatalf("tiny gap should fall back, got %+v", got)
	}
}

func TestSmoothDisplayBand(t *testing.T) {
	got := SmoothDisplayBand(&halfBand, Band{Top: 0.6, Bottom: 1}, 0.5, 0.01)
	if !bandNear(got, Band{Top: 0.3, Bottom: 0.75}) {
		t.Fatalf("lerp: got %+v", got)
	}

	target := Band{Top: 0.11, Bottom: 0.58}
	got = SmoothDisplayBand(&Band{Top: 0.1, Bottom: 0.57}, target, 0.35, 0.02)
	if got != target {
		t.Fatalf("snap: got %+v want %+v", got, target)
	}

	if got := SmoothDisplayBand(nil, target, 0.1, 0); got != target {
		t.Fatalf("no previous band: got %+v", got)
	}
}

func TestOcclusionMasks(t *testing.T) {
	opts := DefaultMaskOptions()
	opts.ExpansionRatio = 0.05
	masks := ResolveFaceOcclusionMasks([]Rect{{Left: -0.05, Top: 0.05, Right: 0.25, Bottom: 0.35}}, opts)
	if len(masks) != 1 {
		t.Fatalf("expected one mask, got %d", len(masks))
	}
	m := masks[0]
	if m.Left < 0 || m.Top < 0 || m.Right > 1 || m.Bottom > 1 {
		t.Fatalf("mask escaped bounds: %+v", m)
	}
	if m.Height() <= 0.3 {
		t.Fatalf("mask not expanded: %+v", m)
	}

	opts.ExpansionRatio = 0
	masks = ResolveFaceOcclusionMasks([]Rect{
		{Left: 0.2, Top: 0.2, Right: 0.42, Bottom: 0.55},
		{Left: 0.35, Top: 0.3, Right: 0.6, Bottom: 0.62},
	}, opts)
	if len(masks) != 1 {
		t.Fatalf("overlapping rects should merge, got %d", len(masks))
	}
	if m := masks[0]; m.Left > 0.2 || m.Right < 0.6 || m.Bottom < 0.62 {
		t.Fatalf("merged mask too small: %+v", m)
	}

	masks = ResolveFaceOcclusionMasks([]Rect{
		{Left: 0.05, Top: 0.1, Right: 0.2, Bottom: 0.3},
		{Left: 0.7, Top: 0.5, Right: 0.9, Bottom: 0.8},
		{Left: 0.5, Top: 0.5, Right: 0.51, Bottom: 0.51},
	}, opts)
	if len(masks) != 2 {
		t.Fatalf("expected two separate masks and one dropped, got %+v", masks)
	}
	if masks[0].Area() < masks[1].Area() {
		t.Fatalf("masks not ordered by area: %+v", masks)
	}
}

func TestExpandNormalizedPolygon(t *testing.T) {
	polygon := []Point{{0.02, 0.10}, {0.22, 0.08}, {0.25, 0.28}, {0.05, 0.30}}
	expanded := ExpandNormalizedPolygon(polygon, 0.08)
	if len(expanded) != len(polygon) {
		t.Fatalf("point count changed: %d", len(expanded))
	}
	for _, p := range expanded {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Fatalf("point escaped viewport: %+v", p)
		}
	}
	if expanded[0].X > polygon[0].X {
		t.Fatalf("first point moved inward: %+v", expanded[0])
	}
}

func TestBuildVisualMask(t *testing.T) {
	polygon := []Point{{0.3, 0.2}, {0.4, 0.18}, {0.5, 0.22}, {0.52, 0.32}, {0.45, 0.4}, {0.34, 0.36}}
	rect := Rect{Left: 0.3, Top: 0.18, Right: 0.52, Bottom: 0.4}
	if mask := BuildVisualMask(rect, polygon, DefaultVisualMaskOptions()); len(mask.Polygon) == 0 {
		t.Fatal("expected polygon mask")
	}
	if mask := BuildVisualMask(rect, polygon[:3], DefaultVisualMaskOptions()); len(mask.Polygon) != 0 {
		t.Fatalf("short contour should fall back to rect, got %+v", mask.Polygon)
	}
}

func TestBandStabilizerRequiresStableFrames(t *testing.T) {
	cfg := DefaultBandStabilizerConfig()
	cfg.RequiredStableFrames = 2
	cfg.MinUpdateIntervalMs = 0
	cfg.SmoothingLerpFactor = 1
	cfg.MinUpdateDelta = 0.01
	s := NewBandStabilizer(cfg)
	face := Band{Top: 0.58, Bottom: 1}

	if got, ok := s.Step(halfBand, false, 0); !ok || !bandNear(got, halfBand) {
		t.Fatalf("initial: got %+v %v", got, ok)
	}
	if got, ok := s.Step(face, true, 100); ok {
		t.Fatalf("first attempt should be held, got %+v", got)
	}
	if got, ok := s.Step(face, true, 200); !ok || !bandNear(got, face) {
		t.Fatalf("second attempt: got %+v %v", got, ok)
	}
}

func TestBandStabilizerHoldsMissingFace(t *testing.T) {
	cfg := DefaultBandStabilizerConfig()
	cfg.RequiredStableFrames = 1
	cfg.NoFaceHoldFrames = 2
	cfg.NoFaceExtraStableFrames = 0
	cfg.MinUpdateIntervalMs = 0
	cfg.SmoothingLerpFactor = 1
	cfg.MinUpdateDelta = 0.01
	s := NewBandStabilizer(cfg)

	s.Step(halfBand, false, 0)
	s.Step(Band{Top: 0.6, Bottom: 1}, true, 100)

	if _, ok := s.Step(halfBand, false, 200); ok {
		t.Fatal("first miss should hold")
	}
	if _, ok := s.Step(halfBand, false, 300); ok {
		t.Fatal("second miss should hold")
	}
	got, ok := s.Step(halfBand, false, 400)
	if !ok || !bandNear(got, halfBand) {
		t.Fatalf("third miss should fall back, got %+v %v", got, ok)
	}
}

func TestBandStabilizerMinInterval(t *testing.T) {
	cfg := DefaultBandStabilizerConfig()
	cfg.RequiredStableFrames = 1
	cfg.MinUpdateIntervalMs = 2000
	cfg.LargeJumpDelta = 0.2
	cfg.SmoothingLerpFactor = 1
	cfg.MinUpdateDelta = 0.01
	s := NewBandStabilizer(cfg)
	large := Band{Top: 0.65, Bottom: 1}

	s.Step(halfBand, false, 0)
	if _, ok := s.Step(Band{Top: 0.1, Bottom: 0.6}, true, 200); ok {
		t.Fatal("medium shift inside the interval should be blocked")
	}
	if got, ok := s.Step(large, true, 400); !ok || !bandNear(got, large) {
		t.Fatalf("large shift should pass, got %+v %v", got, ok)
	}
}

func TestBandStabilizerResetWithoutTime(t *testing.T) {
	cfg := DefaultBandStabilizerConfig()
	cfg.RequiredStableFrames = 1
	cfg.SmoothingLerpFactor = 1
	s := NewBandStabilizer(cfg)
	s.Reset(&halfBand, 0, false)

	// A seeded band without a timestamp must not rate limit the first change.
	medium := Band{Top: 0.05, Bottom: 0.52}
	if got, ok := s.Step(medium, true, 10); !ok || !bandNear(got, medium) {
		t.Fatalf("got %+v %v", got, ok)
	}
	if cur, ok := s.Current(); !ok || !bandNear(cur, medium) {
		t.Fatalf("current: %+v %v", cur, ok)
	}
}

func maskAt(left, top, right, bottom float64) VisualMask {
	return VisualMask{Rect: Rect{Left: left, Top: top, Right: right, Bottom: bottom}}
}

func TestMaskStabilizerSmoothsMovement(t *testing.T) {
	s := NewMaskStabilizer(MaskStabilizerConfig{PositionLerpFactor: 0.5, MaxMaskCount: 6})
	first := s.Step([]VisualMask{maskAt(0.1, 0.2, 0.3, 0.5)})
	second := s.Step([]VisualMask{maskAt(0.3, 0.2, 0.5, 0.5)})

	if !near(first[0].Rect.Left, 0.1) {
		t.Fatalf("first: %+v", first[0].Rect)
	}
	if !near(second[0].Rect.Left, 0.2) || !near(second[0].Rect.Right, 0.4) {
		t.Fatalf("second: %+v", second[0].Rect)
	}
}

func TestMaskStabilizerHoldsShortMisses(t *testing.T) {
	s := NewMaskStabilizer(MaskStabilizerConfig{HoldMissingFrames: 2, PositionLerpFactor: 1, MinIOUForTracking: 0.2, MaxMaskCount: 6})
	s.Step([]VisualMask{maskAt(0.2, 0.2, 0.4, 0.5)})

	for i, want := range []int{1, 1, 0} {
		if got := s.Step(nil); len(got) != want {
			t.Fatalf("miss %d: got %d masks want %d", i+1, len(got), want)
		}
	}
}

func TestMaskStabilizerHoldsOneMissingFace(t *testing.T) {
	s := NewMaskStabilizer(MaskStabilizerConfig{HoldMissingFrames: 2, PositionLerpFactor: 1, MinIOUForTracking: 0.2, MaxMaskCount: 6})
	left := maskAt(0.1, 0.2, 0.3, 0.5)
	right := maskAt(0.6, 0.2, 0.8, 0.5)
	if got := s.Step([]VisualMask{left, right}); len(got) != 2 {
		t.Fatalf("initial: %+v", got)
	}

	for i, want := range []int{2, 2, 1} {
		got := s.Step([]VisualMask{left})
		if len(got) != want {
			t.Fatalf("miss %d of right face: got %d masks want %d", i+1, len(got), want)
		}
		if !near(got[0].Rect.Left, 0.1) {
			t.Fatalf("miss %d: left face should stay first: %+v", i+1, got)
		}
	}

	got := s.Step([]VisualMask{left, right})
	if len(got) != 2 || !near(got[1].Rect.Left, 0.6) {
		t.Fatalf("returning face should be tracked again: %+v", got)
	}
}

func TestMaskStabilizerTracksByIOU(t *testing.T) {
	s := NewMaskStabilizer(MaskStabilizerConfig{PositionLerpFactor: 0.5, MinIOUForTracking: 0.2, MaxMaskCount: 6})
	s.Step([]VisualMask{maskAt(0.1, 0.1, 0.3, 0.3)})
	got := s.Step([]VisualMask{maskAt(0.6, 0.6, 0.8, 0.8)})
	if len(got) != 1 || !near(got[0].Rect.Left, 0.6) {
		t.Fatalf("unrelated mask should replace, not blend: %+v", got)
	}
}

func TestResolveVideoContentRect(t *testing.T) {
	fit := ResolveVideoContentRect(1920, 1080, 1920, 800, ResizeFit)
	if !near(fit.Left, 0) || !near(fit.Right, 1920) || !near(fit.Top, 140) || !near(fit.Bottom, 940) {
		t.Fatalf("fit: %+v", fit)
	}

	zoom := ResolveVideoContentRect(1920, 1080, 1920, 800, ResizeZoom)
	if !near(zoom.Top, 0) || !near(zoom.Bottom, 1080) {
		t.Fatalf("zoom vertical: %+v", zoom)
	}
	if zoom.Left >= 0 || zoom.Right <= 1920 {
		t.Fatalf("zoom should crop horizontally: %+v", zoom)
	}

	unknown := ResolveVideoContentRect(1280, 720, 0, 0, ResizeFit)
	if unknown != (Viewport{Right: 1280, Bottom: 720}) {
		t.Fatalf("unknown video size: %+v", unknown)
	}
}

func TestResizeModeText(t *testing.T) {
	var mode ResizeMode
	if err := json.Unmarshal([]byte(`"zoom"`), &mode); err != nil || mode != ResizeZoom {
		t.Fatalf("got %v %v", mode, err)
	}
	if err := json.Unmarshal([]byte(`"stretch"`), &mode); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	b, _ := json.Marshal(ResizeFixedHeight)
	if string(b) != `"fixed_height"` {
		t.Fatalf("marshal: %s", b)
	}
}

func TestMaskEdgeExpansionRatio(t *testing.T) {
	small := ResolveMaskEdgeExpansionRatio(360, 640, 8, DefaultMinEdgeRatio, DefaultMaxEdgeRatio)
	large := ResolveMaskEdgeExpansionRatio(2160, 3840, 8, DefaultMinEdgeRatio, DefaultMaxEdgeRatio)
	if small <= large {
		t.Fatalf("small viewport %v should feather more than large %v", small, large)
	}
	for _, v := range []float64{small, large} {
		if v < 0.004 || v > 0.03 {
			t.Fatalf("ratio %v out of bounds", v)
		}
	}
}

func TestProjectMasks(t *testing.T) {
	polygon := []Point{{0.3, 0.2}, {0.4, 0.18}, {0.5, 0.22}, {0.52, 0.32}, {0.45, 0.4}, {0.34, 0.36}}
	masks := []VisualMask{
		{Rect: Rect{Left: 0.3, Top: 0.18, Right: 0.52, Bottom: 0.4}, Polygon: polygon},
		maskAt(0.6, 0.5, 0.8, 0.9),
	}
	out := ProjectMasks(masks, 1920, 1080, 1920, 800, ResizeFit)
	if len(out) != 2 {
		t.Fatalf("got %d masks", len(out))
	}

	poly := out[0]
	if len(poly.Core.Polygon) != len(polygon) || len(poly.Edge.Polygon) != len(polygon) {
		t.Fatalf("polygon mask lost points: %+v", poly)
	}
	if poly.Edge.Alpha != 132 || poly.Core.Alpha != 255 {
		t.Fatalf("alphas: %d %d", poly.Edge.Alpha, poly.Core.Alpha)
	}
	// letterboxed: y = 140 + ratio*800
	if !near(poly.Core.Polygon[0].X, 576) || !near(poly.Core.Polygon[0].Y, 300) {
		t.Fatalf("first vertex: %+v", poly.Core.Polygon[0])
	}

	rect := out[1]
	if rect.Core.Rect == nil || rect.Edge.Rect == nil {
		t.Fatalf("rect mask expected: %+v", rect)
	}
	if rect.Edge.Rect.Width() <= rect.Core.Rect.Width() {
		t.Fatal("edge should extend past the core")
	}
	if !near(rect.Core.RadiusX, rect.Core.Rect.Width()*0.46) {
		t.Fatalf("core radius: %v", rect.Core.RadiusX)
	}
}

func TestIsReliableFaceCandidate(t *testing.T) {
	eye := func(x float64) *PixelPoint { return &PixelPoint{X: x, Y: 200} }
	base := Face{Box: Viewport{Left: 300, Top: 100, Right: 500, Bottom: 350}}

	cases := []struct {
		name string
		face Face
		want bool
	}{
		{"box only", base, true},
		{"too small", Face{Box: Viewport{Left: 0, Top: 0, Right: 20, Bottom: 20}}, false},
		{"too wide", Face{Box: Viewport{Left: 0, Top: 0, Right: 600, Bottom: 200}}, false},
		{"short contour", Face{Box: base.Box, Contour: make([]PixelPoint, 10)}, false},
		{"full contour", Face{Box: base.Box, Contour: make([]PixelPoint, 36)}, true},
		{"nose without eyes", Face{Box: base.Box, NoseBase: &PixelPoint{X: 400, Y: 250}}, false},
		{"landmarks", Face{Box: base.Box, LeftEye: eye(360), RightEye: eye(440), NoseBase: &PixelPoint{X: 400, Y: 250}}, true},
		{"eyes collapsed", Face{Box: base.Box, LeftEye: eye(400), RightEye: eye(405), NoseBase: &PixelPoint{X: 400, Y: 250}}, false},
	}
	for _, tc := range cases {
		if got := IsReliableFaceCandidate(tc.face, 1000, 1000); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestConvertFrame(t *testing.T) {
	frame := DetectionFrame{
		Width:  1000,
		Height: 1000,
		Faces: []Face{
			{Box: Viewport{Left: 300, Top: 100, Right: 500, Bottom: 350}},
			{Box: Viewport{Left: 0, Top: 0, Right: 10, Bottom: 10}},
		},
	}
	got := ConvertFrame(frame, DefaultMaskOptions(), DefaultVisualMaskOptions())
	if len(got.VisualMasks) != 1 || len(got.MaskRects) != 1 || len(got.Regions) != 1 {
		t.Fatalf("expected one reliable face, got %+v", got)
	}
	region := got.Regions[0]
	if region.Top >= 0.1 || region.Bottom <= 0.35 {
		t.Fatalf("region should cover the padded face: %+v", region)
	}
}

func TestActiveDisplayBand(t *testing.T) {
	if got := ResolveActiveDisplayBand(false, Band{Top: 0.6, Bottom: 1}, 0.5); got != halfBand {
		t.Fatalf("occlusion off: %+v", got)
	}
	if got := ResolveActiveDisplayBand(true, Band{Top: 0.5, Bottom: 0.55}, 0.1); got != (Band{Top: 0, Bottom: 0.25}) {
		t.Fatalf("thin band: %+v", got)
	}
	want := Band{Top: 0.6, Bottom: 1}
	if got := ResolveActiveDisplayBand(true, want, 0.5); got != want {
		t.Fatalf("smart band: %+v", got)
	}
}

func TestLaneLayout(t *testing.T) {
	layout := ResolveLaneLayout(halfBand, 1000, 25, 3)
	if layout.ScrollLines != 12 || layout.PinnedLines != 6 {
		t.Fatalf("layout: %+v", layout)
	}
	if !near(layout.MarginBottomPx, 500) {
		t.Fatalf("bottom margin: %v", layout.MarginBottomPx)
	}

	layout = ResolveLaneLayout(Band{Top: 0, Bottom: 0.25}, 0, 25, 3)
	if layout.ScrollLines != 4 || layout.PinnedLines != 2 {
		t.Fatalf("fallback layout: %+v", layout)
	}
	if got := MinimumVisibleLines(0.2); got != 2 {
		t.Fatalf("minimum lines: %d", got)
	}
}

func TestEngineCommitsFaceBand(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.DefaultBand = halfBand
	cfg.BandStable.SmoothingLerpFactor = 1
	cfg.BandStable.RequiredStableFrames = 2
	e := NewEngine(cfg)

	regions := []Region{{Top: 0.06, Bottom: 0.62}}
	want := ResolveFaceAwareDisplayBand(regions, halfBand, cfg.Band)
	if bandNear(want, halfBand) {
		t.Fatalf("fixture should move the band, got %+v", want)
	}

	out := e.Step(Frame{Regions: regions}, 100)
	if out.BandChanged || !bandNear(out.Band, halfBand) {
		t.Fatalf("frame 1: %+v", out)
	}
	out = e.Step(Frame{Regions: regions}, 200)
	if !out.BandChanged || !bandNear(out.Band, want) {
		t.Fatalf("frame 2: %+v", out)
	}
	out = e.Step(Frame{Regions: regions}, 300)
	if out.BandChanged || !bandNear(out.Band, want) {
		t.Fatalf("frame 3: %+v", out)
	}
	if !out.HasFace {
		t.Fatal("expected face flag")
	}

	e.Reset()
	if got := e.Band(); !bandNear(got, halfBand) {
		t.Fatalf("after reset: %+v", got)
	}
}

func TestEngineDetectionFrame(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())
	frame := &DetectionFrame{
		Width:  1000,
		Height: 1000,
		Faces:  []Face{{Box: Viewport{Left: 300, Top: 100, Right: 500, Bottom: 350}}},
	}
	out := e.Step(Frame{Detection: frame}, 100)
	if !out.HasFace || len(out.Masks) != 1 {
		t.Fatalf("got %+v", out)
	}
}
