package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/filter"
	"danmakuoverlay/core/backend/occlusion"
	"danmakuoverlay/core/backend/playback"
	"danmakuoverlay/core/backend/rules"
	"danmakuoverlay/core/backend/service/live"
	"danmakuoverlay/core/backend/service/segment"
)

var ErrSessionClosed = errors.New("session closed")

type EventKind string

const (
	EventLoaded EventKind = "loaded"
	EventItems  EventKind = "items"
	EventBand   EventKind = "band"
	EventMasks  EventKind = "masks"
	EventResync EventKind = "resync"
)

const eventBuffer = 256

// Event is pushed to the rendering consumer.
type Event struct {
	Kind   EventKind              `json:"kind"`
	Seq    int64                  `json:"seq"`
	Items  []filter.StyledItem    `json:"items,omitempty"`
	Band   *occlusion.Band        `json:"band,omitempty"`
	Masks  []occlusion.VisualMask `json:"masks,omitempty"`
	Sync   *playback.Decision     `json:"sync,omitempty"`
	Loaded *LoadSummary           `json:"loaded,omitempty"`
	Time   time.Time              `json:"time"`
}

// LoadSummary describes what a load or refilter produced.
type LoadSummary struct {
	Oid             int64          `json:"oid,omitempty"`
	RoomID          int64          `json:"roomId,omitempty"`
	Source          string         `json:"source"`
	Total           int            `json:"total"`
	Kept            int            `json:"kept"`
	Commands        int            `json:"commands"`
	HiddenByType    int            `json:"hiddenByType"`
	HiddenByKeyword int            `json:"hiddenByKeyword"`
	HiddenByPlugin  map[string]int `json:"hiddenByPlugin"`
}

// Request selects what a session plays: a video (Oid) or a live room.
type Request struct {
	Oid        int64  `json:"oid"`
	Pid        int64  `json:"pid"`
	DurationMs int64  `json:"durationMs"`
	RoomID     int64  `json:"roomId"`
	LiveToken  string `json:"liveToken,omitempty"`
	LiveUID    int64  `json:"liveUid,omitempty"`
}

func (r Request) IsLive() bool {
	return r.RoomID > 0
}

func (r Request) validate() error {
	if r.Oid <= 0 && r.RoomID <= 0 {
		return errors.New("oid or roomId is required")
	}
	return nil
}

// Settings are the config-driven knobs shared by every session.
type Settings struct {
	Types          filter.TypeSettings
	Keywords       []string
	Occlusion      occlusion.EngineConfig
	SmartOcclusion bool
	DisplayArea    float64
	LiveURL        string
	LiveHeartbeat  time.Duration
}

// FrameResult is the occlusion state after one detector frame.
type FrameResult struct {
	occlusion.Output
	Active occlusion.Band `json:"active"`
}

// Info is the externally visible session state.
type Info struct {
	ID        string         `json:"id"`
	Request   Request        `json:"request"`
	CreatedAt time.Time      `json:"createdAt"`
	Queued    int            `json:"queued"`
	Pending   int            `json:"pending"`
	Band      occlusion.Band `json:"band"`
	Dropped   int64          `json:"droppedEvents"`
	Live      *live.Stats    `json:"live,omitempty"`
}

// Session is one playback: its comment queue, filter chain, sync controller
// and occlusion engine. Switching videos resets all of them.
type Session struct {
	ID        string
	CreatedAt time.Time

	fetcher *segment.Fetcher
	stats   StatsRecorder

	pipeline   *filter.Pipeline
	controller *playback.Controller
	engine     *occlusion.Engine

	mu          sync.Mutex
	request     Request
	source      []danmaku.Item
	styles      map[string]*rules.HighlightStyle
	summary     LoadSummary
	smart       bool
	displayArea float64
	lastActive  occlusion.Band
	hadMasks    bool
	liveSource  *live.Source
	liveCancel  context.CancelFunc
	liveDone    chan struct{}
	settings    Settings
	closed      bool

	events  chan Event
	seq     atomic.Int64
	dropped atomic.Int64
}

// StatsRecorder receives per-plugin counters of each filter pass.
type StatsRecorder interface {
	RecordResult(result filter.Result)
}

func newSession(id string, fetcher *segment.Fetcher, ruleSet *rules.RuleSet, stats StatsRecorder, settings Settings) *Session {
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		fetcher:    fetcher,
		stats:      stats,
		pipeline:   filter.NewPipeline(ruleSet),
		controller: playback.NewController(),
		engine:     occlusion.NewEngine(settings.Occlusion),
		styles:     map[string]*rules.HighlightStyle{},
		events:     make(chan Event, eventBuffer),
	}
	s.applySettingsLocked(settings)
	s.lastActive = occlusion.ResolveActiveDisplayBand(s.smart, s.engine.Band(), s.displayArea)
	return s
}

// Events delivers pushes for the renderer. The channel is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Load fetches and filters the comments of req and queues them.
func (s *Session) Load(ctx context.Context, req Request) (LoadSummary, error) {
	if err := req.validate(); err != nil {
		return LoadSummary{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LoadSummary{}, ErrSessionClosed
	}
	s.request = req
	s.mu.Unlock()

	if req.IsLive() {
		return s.startLive(req)
	}

	bundle, err := s.fetcher.Load(ctx, segment.Request{Oid: req.Oid, Pid: req.Pid, DurationMs: req.DurationMs})
	if err != nil {
		return LoadSummary{}, err
	}
	items := make([]danmaku.Item, 0, len(bundle.Items)+len(bundle.Commands))
	items = append(items, bundle.Items...)
	items = append(items, bundle.Commands...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LoadSummary{}, ErrSessionClosed
	}
	s.source = items
	s.summary = LoadSummary{Oid: req.Oid, Source: bundle.Source, Commands: len(bundle.Commands)}
	summary := s.refilterLocked(true)
	s.mu.Unlock()

	log.Printf("[session] %s loaded oid=%d kept=%d/%d", s.ID, req.Oid, summary.Kept, summary.Total)
	s.emit(Event{Kind: EventLoaded, Loaded: &summary})
	return summary, nil
}

// Refilter reruns the filter chain over the loaded comments, keeping the
// playback position.
func (s *Session) Refilter() LoadSummary {
	s.mu.Lock()
	if s.closed || s.request.IsLive() {
		summary := s.summary
		s.mu.Unlock()
		return summary
	}
	summary := s.refilterLocked(false)
	s.mu.Unlock()
	s.emit(Event{Kind: EventLoaded, Loaded: &summary})
	return summary
}

// refilterLocked records plugin stats only when record is set.
func (s *Session) refilterLocked(record bool) LoadSummary {
	result := s.pipeline.Apply(s.source)
	if record && s.stats != nil {
		s.stats.RecordResult(result)
	}
	kept := make([]danmaku.Item, 0, len(result.Items))
	styles := make(map[string]*rules.HighlightStyle)
	for _, styled := range result.Items {
		kept = append(kept, styled.Item)
		if styled.Style != nil {
			styles[styled.ID] = styled.Style
		}
	}
	s.styles = styles
	s.controller.Load(kept)

	s.summary.Total = len(s.source)
	s.summary.Kept = len(kept)
	s.summary.HiddenByType = result.HiddenByType
	s.summary.HiddenByKeyword = result.HiddenByKeyword
	s.summary.HiddenByPlugin = result.HiddenByPlugin
	return s.summary
}

func (s *Session) startLive(req Request) (LoadSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return LoadSummary{}, ErrSessionClosed
	}
	s.stopLiveLocked()
	if s.closed {
		return LoadSummary{}, ErrSessionClosed
	}
	src := live.NewSource(live.Options{
		URL:               s.settings.LiveURL,
		RoomID:            req.RoomID,
		UID:               req.LiveUID,
		Token:             req.LiveToken,
		HeartbeatInterval: s.settings.LiveHeartbeat,
		Reconnect:         true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.liveSource = src
	s.liveCancel = cancel
	s.liveDone = done
	s.summary = LoadSummary{RoomID: req.RoomID, Source: "live", HiddenByPlugin: map[string]int{}}

	go func() {
		defer close(done)
		if err := src.Run(ctx, s.acceptLive); err != nil {
			log.Printf("[session][warn] %s live room %d stopped: %v", s.ID, req.RoomID, err)
		}
	}()
	log.Printf("[session] %s following live room %d", s.ID, req.RoomID)
	return s.summary, nil
}

// acceptLive filters one live comment and pushes it straight to the renderer.
func (s *Session) acceptLive(item danmaku.Item) {
	decision := s.pipeline.Decide(item)
	result := filter.Result{HiddenByPlugin: map[string]int{}, Highlighted: map[string]int{}}
	s.mu.Lock()
	s.summary.Total++
	switch {
	case decision.Visible:
		s.summary.Kept++
		if decision.Style != nil {
			result.Highlighted[decision.PluginID]++
		}
	case decision.Reason == filter.ReasonType:
		s.summary.HiddenByType++
	case decision.Reason == filter.ReasonKeyword:
		s.summary.HiddenByKeyword++
	default:
		s.summary.HiddenByPlugin[decision.PluginID]++
		result.HiddenByPlugin[decision.PluginID]++
	}
	s.mu.Unlock()
	if s.stats != nil {
		s.stats.RecordResult(result)
	}
	if decision.Visible {
		s.emit(Event{Kind: EventItems, Items: []filter.StyledItem{{Item: item, Style: decision.Style}}})
	}
}

// Telemetry feeds the player clock. Due comments and resync decisions are
// pushed as events and also returned.
func (s *Session) Telemetry(positionMs int64, speed float64) (playback.Decision, error) {
	if s.isClosed() {
		return playback.Decision{}, ErrSessionClosed
	}
	decision := s.controller.Tick(time.Now(), positionMs, speed)
	if decision.Resync {
		resync := decision
		resync.Due = nil
		s.emit(Event{Kind: EventResync, Sync: &resync})
	}
	if len(decision.Due) > 0 {
		s.emit(Event{Kind: EventItems, Items: s.attachStyles(decision.Due)})
	}
	return decision, nil
}

// Seek moves the queue cursor after a user seek.
func (s *Session) Seek(positionMs int64) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.controller.Seek(positionMs)
	return nil
}

// Frame runs one detector frame through the occlusion engine. Band and mask
// events are pushed only when they change.
func (s *Session) Frame(frame occlusion.Frame, nowMs int64) (FrameResult, error) {
	if s.isClosed() {
		return FrameResult{}, ErrSessionClosed
	}
	out := s.engine.Step(frame, nowMs)

	s.mu.Lock()
	active := occlusion.ResolveActiveDisplayBand(s.smart, out.Band, s.displayArea)
	bandChanged := active != s.lastActive
	s.lastActive = active
	masksChanged := len(out.Masks) > 0 || s.hadMasks
	s.hadMasks = len(out.Masks) > 0
	s.mu.Unlock()

	if bandChanged {
		band := active
		s.emit(Event{Kind: EventBand, Band: &band})
	}
	if masksChanged {
		s.emit(Event{Kind: EventMasks, Masks: out.Masks})
	}
	return FrameResult{Output: out, Active: active}, nil
}

// Switch moves the session to another video or room. Nothing carries over:
// the queue, the sync counters and both stabilizers start fresh.
func (s *Session) Switch(ctx context.Context, req Request) (LoadSummary, error) {
	if err := req.validate(); err != nil {
		return LoadSummary{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LoadSummary{}, ErrSessionClosed
	}
	s.stopLiveLocked()
	s.source = nil
	s.styles = map[string]*rules.HighlightStyle{}
	s.summary = LoadSummary{}
	s.hadMasks = false
	s.controller.Reset()
	s.engine.Reset()
	s.lastActive = occlusion.ResolveActiveDisplayBand(s.smart, s.engine.Band(), s.displayArea)
	s.mu.Unlock()
	log.Printf("[session] %s switching to oid=%d room=%d", s.ID, req.Oid, req.RoomID)
	return s.Load(ctx, req)
}

// ApplySettings pushes new config into the filter chain and the engine, then
// refilters what is loaded.
func (s *Session) ApplySettings(settings Settings) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.applySettingsLocked(settings)
	s.mu.Unlock()
	s.Refilter()
}

// applySettingsLocked only reconfigures the engine when its tuning changed,
// so filter edits keep the current band and tracked masks.
func (s *Session) applySettingsLocked(settings Settings) {
	occlusionChanged := settings.Occlusion != s.settings.Occlusion
	s.settings = settings
	s.pipeline.SetTypes(settings.Types)
	s.pipeline.SetKeywords(settings.Keywords)
	if occlusionChanged {
		s.engine.Reconfigure(settings.Occlusion)
	}
	s.smart = settings.SmartOcclusion
	s.displayArea = settings.DisplayArea
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.ID,
		Request:   s.request,
		CreatedAt: s.CreatedAt,
		Queued:    s.controller.Len(),
		Pending:   s.controller.Pending(),
		Band:      s.lastActive,
		Dropped:   s.dropped.Load(),
	}
	if s.liveSource != nil {
		stats := s.liveSource.Stats()
		info.Live = &stats
	}
	return info
}

// Close stops live streaming and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopLiveLocked()
	close(s.events)
	s.mu.Unlock()
	s.controller.Reset()
	log.Printf("[session] %s closed", s.ID)
}

func (s *Session) stopLiveLocked() {
	if s.liveCancel == nil {
		return
	}
	s.liveCancel()
	done := s.liveDone
	s.liveCancel = nil
	s.liveDone = nil
	s.liveSource = nil
	s.mu.Unlock()
	<-done
	s.mu.Lock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) attachStyles(items []danmaku.Item) []filter.StyledItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]filter.StyledItem, 0, len(items))
	for _, item := range items {
		out = append(out, filter.StyledItem{Item: item, Style: s.styles[item.ID]})
	}
	return out
}

// emit never blocks: a slow consumer loses events, counted in Info.
func (s *Session) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	event.Seq = s.seq.Add(1)
	event.Time = time.Now().UTC()
	select {
	case s.events <- event:
	default:
		if s.dropped.Add(1)%100 == 1 {
			log.Printf("[session][warn] %s event consumer is behind, dropped %d", s.ID, s.dropped.Load())
		}
	}
}
