package occlusion

import (
	"math"
	"sort"
)

// BandOptions tunes ResolveFaceAwareDisplayBand.
type BandOptions struct {
	MinHeightRatio   float64 `json:"minHeightRatio"`
	FacePaddingRatio float64 `json:"facePaddingRatio"`
}

func DefaultBandOptions() BandOptions {
	return BandOptions{MinHeightRatio: 0.22, FacePaddingRatio: 0.04}
}

// ResolveFaceAwareDisplayBand picks the safe gap between padded faces that
// best matches the default band. With no faces, or no gap of at least
// MinHeightRatio, the default band is returned unchanged.
func ResolveFaceAwareDisplayBand(regions []Region, defaultBand Band, opts BandOptions) Band {
	fallback := defaultBand.Normalized()
	if len(regions) == 0 {
		return fallback
	}
	minHeight := clamp(opts.MinHeightRatio, 0.05, 1)
	padding := clamp(opts.FacePaddingRatio, 0, 0.2)

	blocked := make([]Band, 0, len(regions))
	for _, region := range regions {
		region = region.Normalized()
		top := clamp(region.Top-padding, 0, 1)
		bottom := clamp(region.Bottom+padding, 0, 1)
		if bottom <= top {
			continue
		}
		blocked = append(blocked, Band{Top: top, Bottom: bottom})
	}
	if len(blocked) == 0 {
		return fallback
	}
	sort.SliceStable(blocked, func(i, j int) bool {
		return blocked[i].Top < blocked[j].Top
	})

	merged := make([]Band, 0, len(blocked))
	for _, current := range blocked {
		if n := len(merged); n > 0 && current.Top <= merged[n-1].Bottom {
			merged[n-1].Bottom = math.Max(merged[n-1].Bottom, current.Bottom)
			continue
		}
		merged = append(merged, current)
	}

	gaps := make([]Band, 0, len(merged)+1)
	cursor := 0.0
	for _, b := range merged {
		if b.Top > cursor {
			gaps = append(gaps, Band{Top: cursor, Bottom: b.Top})
		}
		cursor = math.Max(cursor, b.Bottom)
	}
	if cursor < 1 {
		gaps = append(gaps, Band{Top: cursor, Bottom: 1})
	}

	preferredCenter := (fallback.Top + fallback.Bottom) / 2
	found := false
	var best Band
	bestScore := math.Inf(-1)
	for _, gap := range gaps {
		if gap.Height() < minHeight {
			continue
		}
		score := gap.Height() - math.Abs((gap.Top+gap.Bottom)/2-preferredCenter)*0.15
		if gap.Top <= 0.02 {
			score += 0.02
		}
		if score > bestScore {
			best, bestScore, found = gap, score, true
		}
	}
	if !found {
		return fallback
	}
	return best.Normalized()
}

// SmoothDisplayBand moves previous toward target by lerpFactor (clamped to
// [0.05,1]). When both edges are already within snapThreshold it snaps.
func SmoothDisplayBand(previous *Band, target Band, lerpFactor, snapThreshold float64) Band {
	target = target.Normalized()
	if previous == nil {
		return target
	}
	prev := previous.Normalized()
	threshold := clamp(snapThreshold, 0, 0.2)
	if math.Abs(target.Top-prev.Top) <= threshold && math.Abs(target.Bottom-prev.Bottom) <= threshold {
		return target
	}
	factor := clamp(lerpFactor, 0.05, 1)
	return Band{
		Top:    lerp(prev.Top, target.Top, factor),
		Bottom: lerp(prev.Bottom, target.Bottom, factor),
	}.Normalized()
}

// Minimum band height below which a requested band is ignored.
const minActiveBandHeight = 0.12

// ResolveActiveDisplayBand is the band handed to the renderer. Without smart
// occlusion, or when the requested band is too thin, comments use the top
// displayArea share of the screen (at least a quarter).
func ResolveActiveDisplayBand(smartOcclusion bool, requested Band, displayArea float64) Band {
	fallback := Band{Top: 0, Bottom: clamp(displayArea, 0.25, 1)}
	if !smartOcclusion {
		return fallback
	}
	requested = requested.Normalized()
	if requested.Height() < minActiveBandHeight {
		return fallback
	}
	return requested
}

// MinimumVisibleLines keeps small players from collapsing to one lane.
func MinimumVisibleLines(areaRatio float64) int {
	switch {
	case areaRatio <= 0.25:
		return 2
	case areaRatio <= 0.5:
		return 3
	case areaRatio <= 0.75:
		return 5
	default:
		return 6
	}
}

// FallbackMaxLines is the lane count used before the view height is known.
func FallbackMaxLines(areaRatio float64) int {
	switch {
	case areaRatio <= 0.25:
		return 4
	case areaRatio <= 0.5:
		return 8
	case areaRatio <= 0.75:
		return 12
	default:
		return 16
	}
}

// LaneLayout is how many scroll and pinned lanes fit inside a band.
type LaneLayout struct {
	ScrollLines    int     `json:"scrollLines"`
	PinnedLines    int     `json:"pinnedLines"`
	MarginTopPx    float64 `json:"marginTopPx"`
	MarginBottomPx float64 `json:"marginBottomPx"`
}

// ResolveLaneLayout sizes lanes for a band on a view of viewHeightPx. Line
// height is the font size plus stroke plus a fixed 12px gap.
func ResolveLaneLayout(band Band, viewHeightPx, fontSize, strokeWidth float64) LaneLayout {
	band = band.Normalized()
	layout := LaneLayout{}
	lines := FallbackMaxLines(band.Height())
	if viewHeightPx > 0 {
		visible := viewHeightPx * band.Height()
		lineHeight := fontSize + math.Max(strokeWidth, 0) + 12
		lines = MinimumVisibleLines(band.Height())
		if lineHeight > 0 {
			if fit := int(visible / lineHeight); fit > lines {
				lines = fit
			}
		}
		layout.MarginTopPx = viewHeightPx * band.Top
		layout.MarginBottomPx = viewHeightPx * (1 - band.Bottom)
	}
	layout.ScrollLines = lines
	layout.PinnedLines = max(lines/2, 1)
	return layout
}
