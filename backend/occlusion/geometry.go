// Package occlusion turns per-frame face detections into a stable safe band
// for comment placement and a stable set of masks the renderer erases.
//
// All ratios are relative to the video content rectangle, not the container,
// so letterboxing never shifts a mask off the face it covers.
package occlusion

import "math"

// Band is the vertical safe zone comments may occupy, as ratios in [0,1].
type Band struct {
	Top    float64 `json:"topRatio"`
	Bottom float64 `json:"bottomRatio"`
}

func (b Band) Height() float64 {
	return math.Max(b.Bottom-b.Top, 0)
}

func (b Band) Normalized() Band {
	top := clamp(b.Top, 0, 1)
	return Band{Top: top, Bottom: clamp(b.Bottom, top, 1)}
}

// Region is the vertical extent of one detected face.
type Region struct {
	Top    float64 `json:"topRatio"`
	Bottom float64 `json:"bottomRatio"`
}

func (r Region) Normalized() Region {
	top := clamp(r.Top, 0, 1)
	return Region{Top: top, Bottom: clamp(r.Bottom, top, 1)}
}

// Rect is a normalized rectangle.
type Rect struct {
	Left   float64 `json:"leftRatio"`
	Top    float64 `json:"topRatio"`
	Right  float64 `json:"rightRatio"`
	Bottom float64 `json:"bottomRatio"`
}

func (r Rect) Width() float64  { return math.Max(r.Right-r.Left, 0) }
func (r Rect) Height() float64 { return math.Max(r.Bottom-r.Top, 0) }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

func (r Rect) Normalized() Rect {
	left := clamp(r.Left, 0, 1)
	top := clamp(r.Top, 0, 1)
	return Rect{
		Left:   left,
		Top:    top,
		Right:  clamp(r.Right, left, 1),
		Bottom: clamp(r.Bottom, top, 1),
	}
}

// Expanded grows the rect by pad (clamped to [0,0.2]) on every side.
func (r Rect) Expanded(pad float64) Rect {
	pad = clamp(pad, 0, 0.2)
	return Rect{
		Left:   r.Left - pad,
		Top:    r.Top - pad,
		Right:  r.Right + pad,
		Bottom: r.Bottom + pad,
	}.Normalized()
}

// Point is a normalized polygon vertex.
type Point struct {
	X float64 `json:"xRatio"`
	Y float64 `json:"yRatio"`
}

func (p Point) Normalized() Point {
	return Point{X: clamp(p.X, 0, 1), Y: clamp(p.Y, 0, 1)}
}

// VisualMask is one erase region: a polygon when the detector supplied a
// contour, with the rect as fallback.
type VisualMask struct {
	Rect    Rect    `json:"fallbackRect"`
	Polygon []Point `json:"polygonPoints"`
}

func (m VisualMask) normalized() VisualMask {
	polygon := make([]Point, 0, len(m.Polygon))
	for _, p := range m.Polygon {
		polygon = append(polygon, p.Normalized())
	}
	return VisualMask{Rect: m.Rect.Normalized(), Polygon: polygon}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(start, end, factor float64) float64 {
	return start + (end-start)*factor
}

func maxBandDelta(a, b Band) float64 {
	return math.Max(math.Abs(a.Top-b.Top), math.Abs(a.Bottom-b.Bottom))
}

func rectIOU(a, b Rect) float64 {
	interWidth := math.Max(math.Min(a.Right, b.Right)-math.Max(a.Left, b.Left), 0)
	interHeight := math.Max(math.Min(a.Bottom, b.Bottom)-math.Max(a.Top, b.Top), 0)
	intersection := interWidth * interHeight
	if intersection <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return clamp(intersection/union, 0, 1)
}

func rectsTouch(a, b Rect, gap float64) bool {
	horizontalSeparated := a.Right+gap < b.Left || b.Right+gap < a.Left
	verticalSeparated := a.Bottom+gap < b.Top || b.Bottom+gap < a.Top
	return !horizontalSeparated && !verticalSeparated
}

func unionRect(a, b Rect) Rect {
	return Rect{
		Left:   math.Min(a.Left, b.Left),
		Top:    math.Min(a.Top, b.Top),
		Right:  math.Max(a.Right, b.Right),
		Bottom: math.Max(a.Bottom, b.Bottom),
	}.Normalized()
}
