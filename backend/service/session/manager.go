package session

import (
	"context"
	"errors"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"danmakuoverlay/core/backend/config"
	"danmakuoverlay/core/backend/filter"
	"danmakuoverlay/core/backend/rules"
	"danmakuoverlay/core/backend/service/segment"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager tracks open sessions and fans config changes out to them.
type Manager struct {
	fetcher *segment.Fetcher
	ruleSet *rules.RuleSet
	stats   StatsRecorder

	mu       sync.RWMutex
	sessions map[string]*Session
	settings Settings
}

func NewManager(fetcher *segment.Fetcher, ruleSet *rules.RuleSet, stats StatsRecorder, cfg config.Config) *Manager {
	return &Manager{
		fetcher:  fetcher,
		ruleSet:  ruleSet,
		stats:    stats,
		sessions: make(map[string]*Session),
		settings: SettingsFromConfig(cfg),
	}
}

// SettingsFromConfig extracts the per-session knobs from the runtime config.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Types:          cfg.TypeFilter,
		Keywords:       filter.ParseRules(cfg.BlockedRules),
		Occlusion:      cfg.Occlusion,
		SmartOcclusion: cfg.SmartOcclusion,
		DisplayArea:    cfg.DisplayAreaRatio,
		LiveURL:        strings.TrimSpace(cfg.LiveWSURL),
		LiveHeartbeat:  time.Duration(cfg.LiveHeartbeatSec) * time.Second,
	}
}

// Create opens a session and loads req into it. A failed load leaves no
// session behind.
func (m *Manager) Create(ctx context.Context, req Request) (*Session, LoadSummary, error) {
	if err := req.validate(); err != nil {
		return nil, LoadSummary{}, err
	}
	m.mu.RLock()
	settings := m.settings
	m.mu.RUnlock()

	s := newSession(uuid.NewString(), m.fetcher, m.ruleSet, m.stats, settings)
	summary, err := s.Load(ctx, req)
	if err != nil {
		s.Close()
		return nil, LoadSummary{}, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	log.Printf("[session] %s created", s.ID)
	return s, summary, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[strings.TrimSpace(id)]
	delete(m.sessions, strings.TrimSpace(id))
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// ApplyConfig is a config.ChangeListener. Sessions are only touched when a
// setting they use changed.
func (m *Manager) ApplyConfig(cfg config.Config) {
	next := SettingsFromConfig(cfg)
	m.mu.Lock()
	if reflect.DeepEqual(m.settings, next) {
		m.mu.Unlock()
		return
	}
	m.settings = next
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.ApplySettings(next)
	}
	if len(sessions) > 0 {
		log.Printf("[session] applied new settings to %d sessions", len(sessions))
	}
}

// RefilterAll reruns filtering in every session, e.g. after plugin changes.
func (m *Manager) RefilterAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Refilter()
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
