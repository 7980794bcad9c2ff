package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"danmakuoverlay/core/backend/filter"
	"danmakuoverlay/core/backend/occlusion"
)

// Config holds runtime options for the danmaku service.
type Config struct {
	ListenAddr             string                 `json:"listenAddr"`
	DataDir                string                 `json:"dataDir"`
	DBPath                 string                 `json:"dbPath"`
	APIBase                string                 `json:"apiBase"`
	AllowOrigin            string                 `json:"allowOrigin"`
	DebugMode              bool                   `json:"debugMode"`
	EnableDebugLogs        bool                   `json:"enableDebugLogs"`
	SegmentBaseURL         string                 `json:"segmentBaseUrl"`
	WebViewURL             string                 `json:"webViewUrl"`
	CommentXMLBaseURL      string                 `json:"commentXmlBaseUrl"`
	SegmentParallelism     int                    `json:"segmentParallelism"`
	SegmentCacheEntries    int                    `json:"segmentCacheEntries"`
	SegmentCacheBytes      int64                  `json:"segmentCacheBytes"`
	PluginImportTimeoutSec int                    `json:"pluginImportTimeoutSec"`
	TypeFilter             filter.TypeSettings    `json:"typeFilter"`
	BlockedRules           string                 `json:"blockedRules"`
	SmartOcclusion         bool                   `json:"smartOcclusion"`
	DisplayAreaRatio       float64                `json:"displayAreaRatio"`
	Occlusion              occlusion.EngineConfig `json:"occlusion"`
	LiveWSURL              string                 `json:"liveWsUrl"`
	LiveHeartbeatSec       int                    `json:"liveHeartbeatSec"`
	APIKeyRequired         bool                   `json:"apiKeyRequired"`
	MaintenanceIntervalMin int                    `json:"maintenanceIntervalMin"`
	ConfigFile             string                 `json:"configFile"`
}

const (
	defaultListenAddr     = ":18787"
	defaultAPIBase        = "/api/v1"
	defaultSegmentBaseURL = "https://api.bilibili.com/x/v2/dm/web/seg.so"
	defaultWebViewURL     = "https://api.bilibili.com/x/v2/dm/web/view"
	defaultCommentXMLURL  = "https://comment.bilibili.com"
	defaultLiveWSURL      = "wss://broadcastlv.chat.bilibili.com/sub"
	defaultCacheEntries   = 64
	defaultCacheBytes     = 32 << 20
)

func resolveConfigFilePath() (string, error) {
	path := strings.TrimSpace(os.Getenv("DANMAKU_CONFIG_FILE"))
	if path == "" {
		path = filepath.FromSlash("./data/config.json")
	}
	return filepath.Abs(path)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	if parsed <= 0 {
		return fallback
	}
	return parsed
}

func envBool(key string) bool {
	return strings.EqualFold(envOrDefault(key, "false"), "true")
}

func defaultConfig(configFile string) Config {
	baseDir := filepath.Dir(configFile)
	cfg := Config{
		ListenAddr:             envOrDefault("DANMAKU_LISTEN", defaultListenAddr),
		DataDir:                envOrDefault("DANMAKU_DATA_DIR", baseDir),
		APIBase:                envOrDefault("DANMAKU_API_BASE", defaultAPIBase),
		AllowOrigin:            envOrDefault("DANMAKU_ALLOW_ORIGIN", "*"),
		DebugMode:              envBool("DANMAKU_DEBUG"),
		EnableDebugLogs:        envBool("DANMAKU_DEBUG"),
		SegmentBaseURL:         envOrDefault("DANMAKU_SEGMENT_BASE_URL", defaultSegmentBaseURL),
		WebViewURL:             envOrDefault("DANMAKU_WEBVIEW_URL", defaultWebViewURL),
		CommentXMLBaseURL:      envOrDefault("DANMAKU_COMMENT_XML_URL", defaultCommentXMLURL),
		SegmentParallelism:     envIntOrDefault("DANMAKU_SEGMENT_PARALLELISM", 3),
		SegmentCacheEntries:    envIntOrDefault("DANMAKU_SEGMENT_CACHE_ENTRIES", defaultCacheEntries),
		SegmentCacheBytes:      defaultCacheBytes,
		PluginImportTimeoutSec: 15,
		TypeFilter:             filter.DefaultTypeSettings(),
		SmartOcclusion:         true,
		DisplayAreaRatio:       1,
		Occlusion:              occlusion.DefaultEngineConfig(),
		LiveWSURL:              envOrDefault("DANMAKU_LIVE_WS_URL", defaultLiveWSURL),
		LiveHeartbeatSec:       30,
		APIKeyRequired:         envBool("DANMAKU_API_KEY_REQUIRED"),
		MaintenanceIntervalMin: 30,
		ConfigFile:             configFile,
	}
	cfg = normalizeConfig(cfg, configFile)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "danmaku.db")
	}
	cfg.ConfigFile = configFile
	return cfg
}

func normalizeConfig(cfg Config, configFile string) Config {
	configDir := filepath.Dir(configFile)
	cfg.ConfigFile = configFile

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = defaultAPIBase
	}
	if !strings.HasPrefix(cfg.APIBase, "/") {
		cfg.APIBase = "/" + cfg.APIBase
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if strings.TrimSpace(cfg.AllowOrigin) == "" {
		cfg.AllowOrigin = "*"
	}
	if cfg.DebugMode {
		cfg.EnableDebugLogs = true
	}
	cfg.DebugMode = cfg.EnableDebugLogs

	if strings.TrimSpace(cfg.SegmentBaseURL) == "" {
		cfg.SegmentBaseURL = defaultSegmentBaseURL
	}
	if strings.TrimSpace(cfg.WebViewURL) == "" {
		cfg.WebViewURL = defaultWebViewURL
	}
	if strings.TrimSpace(cfg.CommentXMLBaseURL) == "" {
		cfg.CommentXMLBaseURL = defaultCommentXMLURL
	}
	if strings.TrimSpace(cfg.LiveWSURL) == "" {
		cfg.LiveWSURL = defaultLiveWSURL
	}
	cfg.SegmentParallelism = clampInt(cfg.SegmentParallelism, 3, 1, 8)
	cfg.SegmentCacheEntries = clampInt(cfg.SegmentCacheEntries, defaultCacheEntries, 1, 4096)
	if cfg.SegmentCacheBytes <= 0 {
		cfg.SegmentCacheBytes = defaultCacheBytes
	}
	cfg.PluginImportTimeoutSec = clampInt(cfg.PluginImportTimeoutSec, 15, 1, 120)
	cfg.LiveHeartbeatSec = clampInt(cfg.LiveHeartbeatSec, 30, 5, 120)
	cfg.MaintenanceIntervalMin = clampInt(cfg.MaintenanceIntervalMin, 30, 5, 1440)
	if cfg.DisplayAreaRatio <= 0 {
		cfg.DisplayAreaRatio = 1
	}
	if cfg.DisplayAreaRatio < 0.25 {
		cfg.DisplayAreaRatio = 0.25
	}
	if cfg.DisplayAreaRatio > 1 {
		cfg.DisplayAreaRatio = 1
	}
	cfg.Occlusion = normalizeOcclusion(cfg.Occlusion, cfg.DebugMode)

	cfg.DataDir = absPathWithBase(cfg.DataDir, configDir)
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = configDir
	}

	cfg.DBPath = absPathWithBase(cfg.DBPath, configDir)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "danmaku.db")
	}
	return cfg
}

// normalizeOcclusion fills unset tuning groups from the defaults.
func normalizeOcclusion(cfg occlusion.EngineConfig, debug bool) occlusion.EngineConfig {
	def := occlusion.DefaultEngineConfig()
	if cfg.DefaultBand.Height() <= 0 {
		cfg.DefaultBand = def.DefaultBand
	}
	cfg.DefaultBand = cfg.DefaultBand.Normalized()
	if cfg.Band.MinHeightRatio <= 0 {
		cfg.Band = def.Band
	}
	if cfg.Masks.MaxMaskCount <= 0 {
		cfg.Masks = def.Masks
	}
	if cfg.VisualMask.PolygonMinPoints <= 0 {
		cfg.VisualMask = def.VisualMask
	}
	if cfg.BandStable.RequiredStableFrames <= 0 || cfg.BandStable.SmoothingLerpFactor <= 0 {
		cfg.BandStable = def.BandStable
	}
	if cfg.MaskStable.MaxMaskCount <= 0 {
		cfg.MaskStable = def.MaskStable
	}
	cfg.Debug = debug
	return cfg
}

func clampInt(value, fallback, lo, hi int) int {
	if value <= 0 {
		value = fallback
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func absPathWithBase(target string, base string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if filepath.IsAbs(target) {
		return target
	}
	if base == "" {
		if abs, err := filepath.Abs(target); err == nil {
			return abs
		}
		return target
	}
	if abs, err := filepath.Abs(filepath.Join(base, target)); err == nil {
		return abs
	}
	return filepath.Join(base, target)
}

// Load returns the current config snapshot without starting the watcher.
func Load() (Config, error) {
	manager, err := NewManager()
	if err != nil {
		return Config{}, err
	}
	cfg := manager.Current()
	manager.StopWatching()
	return cfg, nil
}
