package occlusion

import (
	"fmt"
	"math"
	"strings"
)

// ResizeMode is how the player fits video pixels into its container.
type ResizeMode int

const (
	ResizeFit ResizeMode = iota
	ResizeFixedWidth
	ResizeFixedHeight
	ResizeFill
	ResizeZoom
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeFixedWidth:
		return "fixed_width"
	case ResizeFixedHeight:
		return "fixed_height"
	case ResizeFill:
		return "fill"
	case ResizeZoom:
		return "zoom"
	default:
		return "fit"
	}
}

func (m ResizeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ResizeMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "fit":
		*m = ResizeFit
	case "fixed_width":
		*m = ResizeFixedWidth
	case "fixed_height":
		*m = ResizeFixedHeight
	case "fill":
		*m = ResizeFill
	case "zoom", "crop":
		*m = ResizeZoom
	default:
		return fmt.Errorf("unknown resize mode %q", string(text))
	}
	return nil
}

// Viewport is a rectangle in container pixels.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (v Viewport) Width() float64  { return math.Max(v.Right-v.Left, 0) }
func (v Viewport) Height() float64 { return math.Max(v.Bottom-v.Top, 0) }

// ResolveVideoContentRect is the on-screen rectangle covered by video pixels.
// Fit letterboxes, Zoom crops past the container, and the result is always
// centered. An unknown video size covers the whole container.
func ResolveVideoContentRect(containerWidth, containerHeight, videoWidth, videoHeight int, mode ResizeMode) Viewport {
	cw := float64(max(containerWidth, 1))
	ch := float64(max(containerHeight, 1))
	if videoWidth <= 0 || videoHeight <= 0 {
		return Viewport{Right: cw, Bottom: ch}
	}
	videoAspect := math.Max(float64(videoWidth)/float64(videoHeight), 0.01)
	containerAspect := cw / ch

	var w, h float64
	switch mode {
	case ResizeFill:
		w, h = cw, ch
	case ResizeFixedWidth:
		w, h = cw, cw/videoAspect
	case ResizeFixedHeight:
		w, h = ch*videoAspect, ch
	case ResizeZoom:
		if videoAspect > containerAspect {
			w, h = ch*videoAspect, ch
		} else {
			w, h = cw, cw/videoAspect
		}
	default:
		if videoAspect > containerAspect {
			w, h = cw, cw/videoAspect
		} else {
			w, h = ch*videoAspect, ch
		}
	}
	left := (cw - w) / 2
	top := (ch - h) / 2
	return Viewport{Left: left, Top: top, Right: left + w, Bottom: top + h}
}

// ResolveMaskEdgeExpansionRatio turns a pixel feather into a ratio of the
// viewport's short side, bounded to [minRatio, maxRatio].
func ResolveMaskEdgeExpansionRatio(viewportWidth, viewportHeight, featherPx, minRatio, maxRatio float64) float64 {
	shortSide := math.Min(math.Max(viewportWidth, 1), math.Max(viewportHeight, 1))
	feather := math.Max(featherPx, 0)
	if feather <= 0 {
		return clamp(minRatio, 0, math.Max(maxRatio, 0))
	}
	lo := clamp(minRatio, 0, 1)
	hi := clamp(maxRatio, lo, 0.2)
	return clamp(feather/shortSide, lo, hi)
}

// Default feathering for ResolveMaskEdgeExpansionRatio.
const (
	DefaultFeatherPx      = 8
	DefaultMinEdgeRatio   = 0.004
	DefaultMaxEdgeRatio   = 0.03
	edgeAlpha             = 132
	coreAlpha             = 255
	polygonRenderMinPoint = 5
)

// PixelPoint is a point in container pixels.
type PixelPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PixelShape is one erase pass: a closed polygon, or a rounded rect when
// Polygon is empty.
type PixelShape struct {
	Polygon []PixelPoint `json:"polygon,omitempty"`
	Rect    *Viewport    `json:"rect,omitempty"`
	RadiusX float64      `json:"radiusX,omitempty"`
	RadiusY float64      `json:"radiusY,omitempty"`
	Alpha   int          `json:"alpha"`
}

// PixelMask is a mask projected onto the container: a soft outer edge drawn
// first, then the opaque core.
type PixelMask struct {
	Edge PixelShape `json:"edge"`
	Core PixelShape `json:"core"`
}

// ProjectMasks maps normalized masks onto container pixels through the
// video content rect, adding a feathered edge.
func ProjectMasks(masks []VisualMask, containerWidth, containerHeight, videoWidth, videoHeight int, mode ResizeMode) []PixelMask {
	if len(masks) == 0 {
		return nil
	}
	viewport := ResolveVideoContentRect(containerWidth, containerHeight, videoWidth, videoHeight, mode)
	vw := math.Max(viewport.Width(), 1)
	vh := math.Max(viewport.Height(), 1)
	edge := ResolveMaskEdgeExpansionRatio(vw, vh, DefaultFeatherPx, DefaultMinEdgeRatio, DefaultMaxEdgeRatio)

	out := make([]PixelMask, 0, len(masks))
	for _, mask := range masks {
		if len(mask.Polygon) >= polygonRenderMinPoint {
			out = append(out, PixelMask{
				Edge: PixelShape{Polygon: projectPolygon(ExpandNormalizedPolygon(mask.Polygon, edge), viewport, vw, vh), Alpha: edgeAlpha},
				Core: PixelShape{Polygon: projectPolygon(mask.Polygon, viewport, vw, vh), Alpha: coreAlpha},
			})
			continue
		}
		core := projectRect(mask.Rect, viewport, vw, vh)
		if core.Width() <= 0 || core.Height() <= 0 {
			continue
		}
		outer := projectRect(mask.Rect.Expanded(edge), viewport, vw, vh)
		if outer.Width() <= 0 || outer.Height() <= 0 {
			continue
		}
		out = append(out, PixelMask{
			Edge: PixelShape{Rect: &outer, RadiusX: outer.Width() * 0.48, RadiusY: outer.Height() * 0.54, Alpha: edgeAlpha},
			Core: PixelShape{Rect: &core, RadiusX: core.Width() * 0.46, RadiusY: core.Height() * 0.52, Alpha: coreAlpha},
		})
	}
	return out
}

func projectPolygon(points []Point, viewport Viewport, vw, vh float64) []PixelPoint {
	out := make([]PixelPoint, len(points))
	for i, p := range points {
		out[i] = PixelPoint{X: viewport.Left + p.X*vw, Y: viewport.Top + p.Y*vh}
	}
	return out
}

func projectRect(r Rect, viewport Viewport, vw, vh float64) Viewport {
	return Viewport{
		Left:   viewport.Left + r.Left*vw,
		Top:    viewport.Top + r.Top*vh,
		Right:  viewport.Left + r.Right*vw,
		Bottom: viewport.Top + r.Bottom*vh,
	}
}
