package occlusion

import (
	"log"
	"sync"
)

// EngineConfig bundles every tuning knob of one occlusion engine.
type EngineConfig struct {
	DefaultBand Band                 `json:"defaultBand"`
	Band        BandOptions          `json:"band"`
	Masks       MaskOptions          `json:"masks"`
	VisualMask  VisualMaskOptions    `json:"visualMask"`
	BandStable  BandStabilizerConfig `json:"bandStabilizer"`
	MaskStable  MaskStabilizerConfig `json:"maskStabilizer"`
	Debug       bool                 `json:"debug"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultBand: Band{Top: 0, Bottom: 1},
		Band:        DefaultBandOptions(),
		Masks:       DefaultMaskOptions(),
		VisualMask:  DefaultVisualMaskOptions(),
		BandStable:  DefaultBandStabilizerConfig(),
		MaskStable:  DefaultMaskStabilizerConfig(),
	}
}

// Frame is one detector sample. Detection carries raw pixel faces; when it
// is nil, Regions and Masks are taken as already normalized.
type Frame struct {
	Detection *DetectionFrame `json:"detection,omitempty"`
	Regions   []Region        `json:"regions,omitempty"`
	Masks     []VisualMask    `json:"masks,omitempty"`
}

// Output is the engine state after one Step.
type Output struct {
	Band        Band         `json:"band"`
	BandChanged bool         `json:"bandChanged"`
	Target      Band         `json:"target"`
	Masks       []VisualMask `json:"masks"`
	HasFace     bool         `json:"hasFace"`
}

// Engine owns the band and mask stabilizers of one playback session.
type Engine struct {
	mu   sync.Mutex
	cfg  EngineConfig
	band *BandStabilizer
	mask *MaskStabilizer
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		cfg:  cfg,
		band: NewBandStabilizer(cfg.BandStable),
		mask: NewMaskStabilizer(cfg.MaskStable),
	}
	e.resetLocked()
	return e
}

func (e *Engine) Config() EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Reconfigure swaps tuning and drops all tracked state.
func (e *Engine) Reconfigure(cfg EngineConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.band = NewBandStabilizer(cfg.BandStable)
	e.mask = NewMaskStabilizer(cfg.MaskStable)
	e.resetLocked()
}

// Reset returns to the default band with no tracked masks. The seeded band
// carries no apply time, so the first confirmed face band is never rate
// limited.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	def := e.cfg.DefaultBand.Normalized()
	e.band.Reset(&def, 0, false)
	e.mask.Reset()
}

// Band is the currently committed band.
func (e *Engine) Band() Band {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.band.Current(); ok {
		return b
	}
	return e.cfg.DefaultBand.Normalized()
}

func (e *Engine) Step(frame Frame, nowMs int64) Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	regions := frame.Regions
	masks := frame.Masks
	if frame.Detection != nil {
		detection := ConvertFrame(*frame.Detection, e.cfg.Masks, e.cfg.VisualMask)
		regions = detection.Regions
		masks = detection.VisualMasks
	}
	hasFace := len(regions) > 0

	target := ResolveFaceAwareDisplayBand(regions, e.cfg.DefaultBand, e.cfg.Band)
	out := Output{Target: target, HasFace: hasFace}
	if committed, changed := e.band.Step(target, hasFace, nowMs); changed {
		out.Band = committed
		out.BandChanged = true
		if e.cfg.Debug {
			log.Printf("[occlusion] band committed top=%.3f bottom=%.3f faces=%d", committed.Top, committed.Bottom, len(regions))
		}
	} else if current, ok := e.band.Current(); ok {
		out.Band = current
	} else {
		out.Band = e.cfg.DefaultBand.Normalized()
	}
	out.Masks = e.mask.Step(masks)
	return out
}
