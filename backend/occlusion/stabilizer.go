package occlusion

import "sort"

// BandStabilizerConfig tunes BandStabilizer.
type BandStabilizerConfig struct {
	RequiredStableFrames    int     `json:"requiredStableFrames"`
	NoFaceExtraStableFrames int     `json:"noFaceExtraStableFrames"`
	NoFaceHoldFrames        int     `json:"noFaceHoldFrames"`
	MinUpdateDelta          float64 `json:"minUpdateDelta"`
	PendingBandTolerance    float64 `json:"pendingBandTolerance"`
	MinUpdateIntervalMs     int64   `json:"minUpdateIntervalMs"`
	LargeJumpDelta          float64 `json:"largeJumpDelta"`
	SmoothingLerpFactor     float64 `json:"smoothingLerpFactor"`
	SmoothingSnapThreshold  float64 `json:"smoothingSnapThreshold"`
}

func DefaultBandStabilizerConfig() BandStabilizerConfig {
	return BandStabilizerConfig{
		RequiredStableFrames:    2,
		NoFaceExtraStableFrames: 1,
		NoFaceHoldFrames:        2,
		MinUpdateDelta:          0.025,
		PendingBandTolerance:    0.015,
		MinUpdateIntervalMs:     1800,
		LargeJumpDelta:          0.08,
		SmoothingLerpFactor:     0.18,
		SmoothingSnapThreshold:  0.01,
	}
}

// BandStabilizer gates band changes: a new band must persist for
// RequiredStableFrames, a lost face is held for NoFaceHoldFrames, and
// commits are rate limited unless the jump is large. Not safe for
// concurrent use.
type BandStabilizer struct {
	cfg           BandStabilizerConfig
	applied       *Band
	pending       *Band
	pendingFrames int
	noFaceFrames  int
	lastApplyMs   int64
	hasApplyTime  bool
}

func NewBandStabilizer(cfg BandStabilizerConfig) *BandStabilizer {
	return &BandStabilizer{cfg: cfg}
}

// Reset seeds the stabilizer with defaultBand (nil clears it). A seeded band
// counts as applied at nowMs unless hasNow is false.
func (s *BandStabilizer) Reset(defaultBand *Band, nowMs int64, hasNow bool) {
	s.applied = nil
	if defaultBand != nil {
		b := defaultBand.Normalized()
		s.applied = &b
	}
	s.pending = nil
	s.pendingFrames = 0
	s.noFaceFrames = 0
	s.lastApplyMs = nowMs
	s.hasApplyTime = s.applied != nil && hasNow
}

func (s *BandStabilizer) Current() (Band, bool) {
	if s.applied == nil {
		return Band{}, false
	}
	return *s.applied, true
}

// Step feeds one detection. It returns the newly committed band, or false
// when nothing changed.
func (s *BandStabilizer) Step(detected Band, hasFace bool, nowMs int64) (Band, bool) {
	detected = detected.Normalized()
	if hasFace {
		s.noFaceFrames = 0
	} else {
		s.noFaceFrames++
	}

	if s.applied == nil {
		s.commit(detected, nowMs)
		return detected, true
	}
	current := *s.applied

	target := detected
	if !hasFace && s.noFaceFrames <= s.cfg.NoFaceHoldFrames {
		target = current
	}
	smoothed := SmoothDisplayBand(&current, target, s.cfg.SmoothingLerpFactor, s.cfg.SmoothingSnapThreshold)

	delta := maxBandDelta(current, smoothed)
	if delta < s.cfg.MinUpdateDelta {
		s.pending = nil
		s.pendingFrames = 0
		return Band{}, false
	}

	if s.pending == nil || maxBandDelta(*s.pending, smoothed) > clamp(s.cfg.PendingBandTolerance, 0, 0.2) {
		s.pending = &smoothed
		s.pendingFrames = 1
	} else {
		s.pendingFrames++
	}

	required := s.cfg.RequiredStableFrames
	if !hasFace {
		required += s.cfg.NoFaceExtraStableFrames
	}
	if s.pendingFrames < max(required, 1) {
		return Band{}, false
	}

	if s.hasApplyTime && nowMs-s.lastApplyMs < s.cfg.MinUpdateIntervalMs && delta < s.cfg.LargeJumpDelta {
		return Band{}, false
	}

	s.commit(smoothed, nowMs)
	return smoothed, true
}

func (s *BandStabilizer) commit(b Band, nowMs int64) {
	s.applied = &b
	s.lastApplyMs = nowMs
	s.hasApplyTime = true
	s.pending = nil
	s.pendingFrames = 0
}

// MaskStabilizerConfig tunes MaskStabilizer.
type MaskStabilizerConfig struct {
	PositionLerpFactor float64 `json:"positionLerpFactor"`
	MinIOUForTracking  float64 `json:"minIouForTracking"`
	HoldMissingFrames  int     `json:"holdMissingFrames"`
	MaxMaskCount       int     `json:"maxMaskCount"`
}

func DefaultMaskStabilizerConfig() MaskStabilizerConfig {
	return MaskStabilizerConfig{PositionLerpFactor: 0.35, MinIOUForTracking: 0.2, HoldMissingFrames: 2, MaxMaskCount: 6}
}

// MaskStabilizer associates masks across frames by IOU, smooths matched
// masks toward their new position and holds each mask through short
// detection gaps of its own. Not safe for concurrent use.
type MaskStabilizer struct {
	cfg     MaskStabilizerConfig
	tracked []trackedMask
}

type trackedMask struct {
	mask   VisualMask
	missed int
}

func NewMaskStabilizer(cfg MaskStabilizerConfig) *MaskStabilizer {
	return &MaskStabilizer{cfg: cfg}
}

func (s *MaskStabilizer) Reset() {
	s.tracked = nil
}

func (s *MaskStabilizer) Tracked() []VisualMask {
	if len(s.tracked) == 0 {
		return nil
	}
	out := make([]VisualMask, len(s.tracked))
	for i, t := range s.tracked {
		out[i] = t.mask
	}
	return out
}

// Step feeds one frame of masks and returns the tracked set. A tracked mask
// with no match is kept unchanged until it has been missing for more than
// HoldMissingFrames frames. Fresh detections take precedence over held masks
// when the count limit is reached.
func (s *MaskStabilizer) Step(detected []VisualMask) []VisualMask {
	maxCount := clampInt(s.cfg.MaxMaskCount, 1, 12)
	if len(detected) > maxCount {
		detected = detected[:maxCount]
	}
	current := make([]VisualMask, 0, len(detected))
	for _, m := range detected {
		current = append(current, m.normalized())
	}
	sortMasks(current)

	unmatched := append([]trackedMask(nil), s.tracked...)
	candidates := make([]VisualMask, len(unmatched))
	for i, t := range unmatched {
		candidates[i] = t.mask
	}
	minIOU := clamp(s.cfg.MinIOUForTracking, 0, 1)
	factor := clamp(s.cfg.PositionLerpFactor, 0, 1)
	next := make([]trackedMask, 0, len(current)+len(unmatched))
	for _, mask := range current {
		idx := bestMatch(candidates, mask, minIOU)
		if idx < 0 {
			next = append(next, trackedMask{mask: mask})
			continue
		}
		previous := candidates[idx]
		candidates = append(candidates[:idx], candidates[idx+1:]...)
		unmatched = append(unmatched[:idx], unmatched[idx+1:]...)
		next = append(next, trackedMask{mask: smoothVisualMask(previous, mask, factor)})
	}

	hold := max(s.cfg.HoldMissingFrames, 0)
	for _, t := range unmatched {
		if len(next) >= maxCount {
			break
		}
		t.missed++
		if t.missed <= hold {
			next = append(next, t)
		}
	}
	if len(next) > maxCount {
		next = next[:maxCount]
	}
	sort.SliceStable(next, func(i, j int) bool {
		a, b := next[i].mask.Rect, next[j].mask.Rect
		if a.Top != b.Top {
			return a.Top < b.Top
		}
		return a.Left < b.Left
	})
	s.tracked = next
	return s.Tracked()
}

// bestMatch picks the previous mask with the highest IOU at or above minIOU.
// Ties go to the later index.
func bestMatch(previous []VisualMask, current VisualMask, minIOU float64) int {
	best := -1
	bestIOU := minIOU
	for i, p := range previous {
		if iou := rectIOU(p.Rect, current.Rect); iou >= bestIOU {
			best, bestIOU = i, iou
		}
	}
	return best
}

func smoothVisualMask(previous, current VisualMask, factor float64) VisualMask {
	if factor <= 0 {
		return previous
	}
	if factor >= 1 {
		return current
	}
	rect := Rect{
		Left:   lerp(previous.Rect.Left, current.Rect.Left, factor),
		Top:    lerp(previous.Rect.Top, current.Rect.Top, factor),
		Right:  lerp(previous.Rect.Right, current.Rect.Right, factor),
		Bottom: lerp(previous.Rect.Bottom, current.Rect.Bottom, factor),
	}.Normalized()

	var polygon []Point
	switch {
	case len(current.Polygon) == 0:
		polygon = previous.Polygon
	case len(previous.Polygon) == len(current.Polygon) && len(current.Polygon) >= 5:
		polygon = make([]Point, len(current.Polygon))
		for i, p := range current.Polygon {
			polygon[i] = Point{
				X: lerp(previous.Polygon[i].X, p.X, factor),
				Y: lerp(previous.Polygon[i].Y, p.Y, factor),
			}.Normalized()
		}
	default:
		polygon = current.Polygon
	}
	return VisualMask{Rect: rect, Polygon: polygon}
}

func sortMasks(masks []VisualMask) {
	sort.SliceStable(masks, func(i, j int) bool {
		if masks[i].Rect.Top != masks[j].Rect.Top {
			return masks[i].Rect.Top < masks[j].Rect.Top
		}
		return masks[i].Rect.Left < masks[j].Rect.Left
	})
}
