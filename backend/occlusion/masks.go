package occlusion

import (
	"math"
	"sort"
)

// MaskOptions tunes ResolveFaceOcclusionMasks.
type MaskOptions struct {
	ExpansionRatio float64 `json:"expansionRatio"`
	MinSizeRatio   float64 `json:"minSizeRatio"`
	MergeGapRatio  float64 `json:"mergeGapRatio"`
	MaxMaskCount   int     `json:"maxMaskCount"`
}

func DefaultMaskOptions() MaskOptions {
	return MaskOptions{ExpansionRatio: 0.04, MinSizeRatio: 0.035, MergeGapRatio: 0.02, MaxMaskCount: 4}
}

// ResolveFaceOcclusionMasks expands and clamps raw face rects, drops the
// ones too small to matter, merges rects that overlap or nearly touch, and
// keeps the largest MaxMaskCount.
func ResolveFaceOcclusionMasks(raw []Rect, opts MaskOptions) []Rect {
	if len(raw) == 0 {
		return nil
	}
	minSize := clamp(opts.MinSizeRatio, 0.01, 0.2)
	expansion := clamp(opts.ExpansionRatio, 0, 0.2)
	mergeGap := clamp(opts.MergeGapRatio, 0, 0.1)
	maxCount := clampInt(opts.MaxMaskCount, 1, 8)

	candidates := make([]Rect, 0, len(raw))
	for _, r := range raw {
		r = r.Normalized().Expanded(expansion)
		if r.Width() >= minSize && r.Height() >= minSize {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sortByAreaDesc(candidates)

	merged := make([]Rect, 0, len(candidates))
	for _, current := range candidates {
		for i := 0; i < len(merged); {
			if !rectsTouch(merged[i], current, mergeGap) {
				i++
				continue
			}
			current = unionRect(merged[i], current)
			merged = append(merged[:i], merged[i+1:]...)
			i = 0
		}
		merged = append(merged, current)
	}
	sortByAreaDesc(merged)
	if len(merged) > maxCount {
		merged = merged[:maxCount]
	}
	return merged
}

func sortByAreaDesc(rects []Rect) {
	sort.SliceStable(rects, func(i, j int) bool {
		return rects[i].Area() > rects[j].Area()
	})
}

// ExpandNormalizedPolygon scales a polygon about its centroid by
// 1 + 1.8*expansion and clamps every vertex into [0,1]. Fewer than three
// points are only clamped.
func ExpandNormalizedPolygon(points []Point, expansion float64) []Point {
	if len(points) == 0 {
		return nil
	}
	normalized := make([]Point, len(points))
	for i, p := range points {
		normalized[i] = p.Normalized()
	}
	if len(normalized) < 3 {
		return normalized
	}
	expansion = clamp(expansion, 0, 0.2)
	if expansion <= 0 {
		return normalized
	}

	var cx, cy float64
	for _, p := range normalized {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(normalized))
	cy /= float64(len(normalized))
	scale := 1 + expansion*1.8

	out := make([]Point, len(normalized))
	for i, p := range normalized {
		dx := p.X - cx
		dy := p.Y - cy
		if math.Hypot(dx, dy) < 0.0001 {
			out[i] = p
			continue
		}
		out[i] = Point{X: cx + dx*scale, Y: cy + dy*scale}.Normalized()
	}
	return out
}

// VisualMaskOptions tunes BuildVisualMask.
type VisualMaskOptions struct {
	PolygonMinPoints      int     `json:"polygonMinPoints"`
	PolygonExpansionRatio float64 `json:"polygonExpansionRatio"`
	RectPaddingRatio      float64 `json:"rectPaddingRatio"`
}

func DefaultVisualMaskOptions() VisualMaskOptions {
	return VisualMaskOptions{PolygonMinPoints: 5, PolygonExpansionRatio: 0.035, RectPaddingRatio: 0.015}
}

// BuildVisualMask keeps the contour when it has at least PolygonMinPoints
// vertices; otherwise the mask is the padded rect alone.
func BuildVisualMask(rect Rect, polygon []Point, opts VisualMaskOptions) VisualMask {
	mask := VisualMask{Rect: rect.Normalized().Expanded(opts.RectPaddingRatio)}
	if len(polygon) >= max(opts.PolygonMinPoints, 3) {
		mask.Polygon = ExpandNormalizedPolygon(polygon, opts.PolygonExpansionRatio)
	}
	return mask
}
