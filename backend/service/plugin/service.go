package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/filter"
	"danmakuoverlay/core/backend/rules"
	"danmakuoverlay/core/backend/store"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrUnsupportedURL = errors.New("only http and https plugin urls are supported")
)

const (
	defaultImportTimeout = 15 * time.Second
	defaultFlushInterval = 5 * time.Second
	maxDocumentBytes     = 1 << 20
	qrImageSize          = 280
)

type Options struct {
	ImportTimeout time.Duration
	FlushInterval time.Duration
	HTTPClient    *http.Client
}

// TestResult is the verdict of one plugin against a sample.
type TestResult struct {
	Visible bool                  `json:"visible"`
	Style   *rules.HighlightStyle `json:"style,omitempty"`
}

// Manager owns installed plugins. Enabled danmaku plugins are compiled into
// the shared RuleSet every time the installed set changes.
type Manager struct {
	store   *store.Store
	ruleSet *rules.RuleSet
	opts    Options

	mu sync.Mutex

	statsMu sync.Mutex
	pending map[string]*store.PluginStat

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(storeDB *store.Store, opts Options) *Manager {
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = defaultImportTimeout
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Manager{
		store:   storeDB,
		ruleSet: rules.NewRuleSet(),
		opts:    opts,
		pending: make(map[string]*store.PluginStat),
		stopCh:  make(chan struct{}),
	}
}

// Init loads persisted plugins and starts the stats flusher.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.publish(ctx); err != nil {
		return err
	}
	m.wg.Add(1)
	go m.flushLoop()
	return nil
}

// Shutdown stops the flusher and writes any buffered counters.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	if err := m.flush(ctx); err != nil {
		log.Printf("[plugin][warn] flush stats on shutdown failed: %v", err)
	}
}

func (m *Manager) RuleSet() *rules.RuleSet {
	return m.ruleSet
}

// SetTimeout changes the import timeout; used by the config listener.
func (m *Manager) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	m.opts.ImportTimeout = timeout
	m.mu.Unlock()
}

// Preview validates a document without installing it.
func (m *Manager) Preview(raw []byte) (rules.Plugin, error) {
	return rules.ParsePlugin(raw)
}

// Install adds or replaces a plugin. A replaced plugin keeps its enabled flag
// and starts over with zeroed counters.
func (m *Manager) Install(ctx context.Context, raw []byte) (*store.PluginRecord, error) {
	return m.install(ctx, raw, "", false)
}

// Update replaces an installed plugin. Unknown ids are rejected.
func (m *Manager) Update(ctx context.Context, raw []byte) (*store.PluginRecord, error) {
	return m.install(ctx, raw, "", true)
}

// ImportFromURL downloads a plugin document and installs it.
func (m *Manager) ImportFromURL(ctx context.Context, rawURL string) (*store.PluginRecord, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ErrUnsupportedURL
	}

	m.mu.Lock()
	timeout := m.opts.ImportTimeout
	m.mu.Unlock()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download plugin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download plugin: http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download plugin: %w", err)
	}
	if len(body) > maxDocumentBytes {
		return nil, errors.New("download plugin: document too large")
	}
	record, err := m.install(ctx, body, parsed.String(), false)
	if err != nil {
		return nil, err
	}
	log.Printf("[plugin] imported %s from %s", record.ID, parsed.Host)
	return record, nil
}

func (m *Manager) install(ctx context.Context, raw []byte, sourceURL string, mustExist bool) (*store.PluginRecord, error) {
	plugin, err := rules.ParsePlugin(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.GetPlugin(ctx, plugin.ID)
	if err != nil {
		return nil, err
	}
	if mustExist && existing == nil {
		return nil, ErrPluginNotFound
	}
	record := store.PluginRecord{
		ID:          plugin.ID,
		Name:        plugin.Name,
		Type:        plugin.Type,
		Version:     plugin.Version,
		Author:      plugin.Author,
		Description: plugin.Description,
		SourceURL:   sourceURL,
		Document:    strings.TrimSpace(string(raw)),
		Enabled:     true,
	}
	if existing != nil {
		record.Enabled = existing.Enabled
		if record.SourceURL == "" {
			record.SourceURL = existing.SourceURL
		}
	}
	if err := m.store.SavePlugin(ctx, record, existing != nil); err != nil {
		return nil, err
	}
	if existing != nil {
		m.dropPending(plugin.ID)
	}
	if err := m.publishLocked(ctx); err != nil {
		return nil, err
	}
	saved, err := m.store.GetPlugin(ctx, plugin.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("[plugin] updated %s (%s) to %s", saved.ID, saved.Name, saved.Version)
	} else {
		log.Printf("[plugin] installed %s (%s) %s", saved.ID, saved.Name, saved.Version)
	}
	return saved, nil
}

func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.store.DeletePlugin(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPluginNotFound
	}
	m.dropPending(strings.TrimSpace(id))
	log.Printf("[plugin] removed %s", id)
	return m.publishLocked(ctx)
}

func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.store.SetPluginEnabled(ctx, id, enabled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPluginNotFound
	}
	log.Printf("[plugin] %s enabled=%v", id, enabled)
	return m.publishLocked(ctx)
}

func (m *Manager) List(ctx context.Context) ([]store.PluginRecord, error) {
	return m.store.ListPlugins(ctx)
}

func (m *Manager) Get(ctx context.Context, id string) (*store.PluginRecord, error) {
	record, err := m.store.GetPlugin(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPluginNotFound
	}
	return record, nil
}

// Stats returns persisted counters including anything still buffered.
func (m *Manager) Stats(ctx context.Context) ([]store.PluginStat, error) {
	if err := m.flush(ctx); err != nil {
		return nil, err
	}
	return m.store.ListPluginStats(ctx)
}

// ResetStats zeroes one plugin's counters, or every plugin's when id is empty.
func (m *Manager) ResetStats(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		m.statsMu.Lock()
		m.pending = make(map[string]*store.PluginStat)
		m.statsMu.Unlock()
	} else {
		m.dropPending(id)
	}
	return m.store.ResetPluginStats(ctx, id)
}

// TestRules runs one installed plugin against sample fields, ignoring its
// enabled flag.
func (m *Manager) TestRules(ctx context.Context, id string, sample rules.Fields) (TestResult, error) {
	record, err := m.Get(ctx, id)
	if err != nil {
		return TestResult{}, err
	}
	plugin, err := rules.ParsePlugin([]byte(record.Document))
	if err != nil {
		return TestResult{}, err
	}
	result := TestResult{Visible: plugin.ShouldShow(sample)}
	if result.Visible {
		if style, ok := plugin.Highlight(sample); ok {
			result.Style = &style
		}
	}
	return result, nil
}

// ShouldShow checks item against every enabled danmaku plugin.
func (m *Manager) ShouldShow(item danmaku.Item) (bool, string) {
	return m.ruleSet.Snapshot().ShouldShow(rules.DanmakuFields(item))
}

func (m *Manager) Style(item danmaku.Item) (rules.HighlightStyle, bool) {
	return m.ruleSet.Snapshot().Style(rules.DanmakuFields(item))
}

// RecordResult buffers the per-plugin counters of one filter pass.
func (m *Manager) RecordResult(result filter.Result) {
	if len(result.HiddenByPlugin) == 0 && len(result.Highlighted) == 0 {
		return
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for id, n := range result.HiddenByPlugin {
		m.pendingFor(id).HiddenCount += int64(n)
	}
	for id, n := range result.Highlighted {
		m.pendingFor(id).HighlightedCount += int64(n)
	}
}

// ShareQR renders a QR code for a plugin: its source url when it was
// imported, else the document itself.
func (m *Manager) ShareQR(ctx context.Context, id string) ([]byte, error) {
	record, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	content := record.SourceURL
	if content == "" {
		content = record.Document
	}
	png, err := qrcode.Encode(content, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qrcode: %w", err)
	}
	return png, nil
}

func (m *Manager) pendingFor(id string) *store.PluginStat {
	stat, ok := m.pending[id]
	if !ok {
		stat = &store.PluginStat{PluginID: id}
		m.pending[id] = stat
	}
	return stat
}

func (m *Manager) dropPending(id string) {
	m.statsMu.Lock()
	delete(m.pending, id)
	m.statsMu.Unlock()
}

func (m *Manager) flush(ctx context.Context) error {
	m.statsMu.Lock()
	if len(m.pending) == 0 {
		m.statsMu.Unlock()
		return nil
	}
	deltas := make([]store.PluginStat, 0, len(m.pending))
	for _, stat := range m.pending {
		deltas = append(deltas, *stat)
	}
	m.pending = make(map[string]*store.PluginStat)
	m.statsMu.Unlock()
	return m.store.AddPluginStats(ctx, deltas)
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.flush(context.Background()); err != nil {
				log.Printf("[plugin][warn] flush stats failed: %v", err)
			}
		}
	}
}

func (m *Manager) publish(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishLocked(ctx)
}

// publishLocked rebuilds the rule set from the store. Documents that no longer
// validate are skipped with a warning.
func (m *Manager) publishLocked(ctx context.Context) error {
	records, err := m.store.ListPlugins(ctx)
	if err != nil {
		return err
	}
	entries := make([]rules.Entry, 0, len(records))
	for _, record := range records {
		plugin, err := rules.ParsePlugin([]byte(record.Document))
		if err != nil {
			log.Printf("[plugin][warn] skip %s: %v", record.ID, err)
			continue
		}
		entries = append(entries, rules.Entry{Plugin: plugin, Enabled: record.Enabled})
	}
	m.ruleSet.Replace(entries)
	return nil
}
