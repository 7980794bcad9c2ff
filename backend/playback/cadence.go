package playback

import (
	"math"
	"time"
)

// NormalSpeedTolerance is the band around 1.0x treated as normal playback.
const NormalSpeedTolerance = 0.05

const (
	normalForceEvery  = 6
	shiftedForceEvery = 3

	baseScrollMoveMs = 5000
	minScrollMoveMs  = 2000
	maxScrollMoveMs  = 10000
)

func IsNormalSpeed(speed float64) bool {
	return math.Abs(speed-1) <= NormalSpeedTolerance
}

// ResyncInterval is how often the due window is re-aligned to the player
// position. Faster playback accumulates drift faster and resyncs sooner.
func ResyncInterval(speed float64) time.Duration {
	switch {
	case IsNormalSpeed(speed):
		return 2200 * time.Millisecond
	case speed >= 1.9:
		return 900 * time.Millisecond
	case speed >= 1.4:
		return 1200 * time.Millisecond
	default:
		return 1600 * time.Millisecond
	}
}

// ShouldForceResync reports whether cycle (1-based) is due for a full
// rebuild of the buffered window.
func ShouldForceResync(speed float64, cycle int) bool {
	if cycle <= 0 {
		return false
	}
	every := shiftedForceEvery
	if IsNormalSpeed(speed) {
		every = normalForceEvery
	}
	return cycle%every == 0
}

// ScrollMoveTime is how long a scrolling comment takes to cross the screen.
// speedFactor above 1 slows comments down; videoSpeed scales them with the
// player.
func ScrollMoveTime(speedFactor, videoSpeed float64) time.Duration {
	if speedFactor <= 0 || math.IsNaN(speedFactor) {
		speedFactor = 1
	}
	moveMs := math.Min(math.Max(baseScrollMoveMs*speedFactor, minScrollMoveMs), maxScrollMoveMs)
	if videoSpeed > 0 && !math.IsNaN(videoSpeed) {
		moveMs /= videoSpeed
	}
	return time.Duration(int64(moveMs)) * time.Millisecond
}
