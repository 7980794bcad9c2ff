package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	_ "danmakuoverlay/core/backend/api/handlers"
	"danmakuoverlay/core/backend/config"
	"danmakuoverlay/core/backend/logging"
	"danmakuoverlay/core/backend/router"
	authsvc "danmakuoverlay/core/backend/service/auth"
	"danmakuoverlay/core/backend/service/maintenance"
	pluginsvc "danmakuoverlay/core/backend/service/plugin"
	"danmakuoverlay/core/backend/service/segment"
	"danmakuoverlay/core/backend/service/session"
	"danmakuoverlay/core/backend/store"
)

type App struct {
	cfg         config.Config
	cfgManager  *config.Manager
	store       *store.Store
	plugins     *pluginsvc.Manager
	segments    *segment.Fetcher
	sessions    *session.Manager
	maintenance *maintenance.Service
	server      *http.Server
	apiHandler  http.Handler
	routes      []router.Route
	openapiJSON []byte
	logger      *logging.Manager
}

func segmentOptions(cfg config.Config) segment.Options {
	return segment.Options{
		WebViewURL:   cfg.WebViewURL,
		SegmentURL:   cfg.SegmentBaseURL,
		XMLBaseURL:   cfg.CommentXMLBaseURL,
		Parallelism:  cfg.SegmentParallelism,
		CacheEntries: cfg.SegmentCacheEntries,
		CacheBytes:   cfg.SegmentCacheBytes,
	}
}

func New(cfgManager *config.Manager) (*App, error) {
	if cfgManager == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	cfg := cfgManager.Current()
	log.Printf("[config] using config file: %s", cfg.ConfigFile)
	log.Printf("[config] segment endpoint: %s", cfg.SegmentBaseURL)

	loggerMgr, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	storeDB, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = loggerMgr.Close()
		return nil, err
	}

	authService := authsvc.New(storeDB)
	pluginMgr := pluginsvc.New(storeDB, pluginsvc.Options{
		ImportTimeout: time.Duration(cfg.PluginImportTimeoutSec) * time.Second,
	})
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = pluginMgr.Init(initCtx)
	cancel()
	if err != nil {
		storeDB.Close()
		_ = loggerMgr.Close()
		return nil, fmt.Errorf("load plugins failed: %w", err)
	}
	fetcher := segment.New(segmentOptions(cfg))
	sessionMgr := session.NewManager(fetcher, pluginMgr.RuleSet(), pluginMgr, cfg)
	maintenanceSvc := maintenance.New(storeDB, time.Duration(cfg.MaintenanceIntervalMin)*time.Minute)

	deps := &router.Dependencies{
		Config:      cfg,
		ConfigMgr:   cfgManager,
		Store:       storeDB,
		Auth:        authService,
		Plugins:     pluginMgr,
		Segments:    fetcher,
		Sessions:    sessionMgr,
		Maintenance: maintenanceSvc,
		Logs:        loggerMgr,
	}
	apiHandler, routes := router.Build(deps)
	openapi, err := buildOpenAPISpec(routes)
	if err != nil {
		pluginMgr.Shutdown(context.Background())
		storeDB.Close()
		_ = loggerMgr.Close()
		return nil, err
	}

	app := &App{
		cfg:         cfg,
		cfgManager:  cfgManager,
		store:       storeDB,
		plugins:     pluginMgr,
		segments:    fetcher,
		sessions:    sessionMgr,
		maintenance: maintenanceSvc,
		apiHandler:  apiHandler,
		routes:      routes,
		openapiJSON: openapi,
		logger:      loggerMgr,
	}
	cfgManager.AddListener(func(newCfg config.Config) {
		log.Printf("[config] hot reload applied from %s", newCfg.ConfigFile)
		fetcher.UpdateOptions(segmentOptions(newCfg))
		pluginMgr.SetTimeout(time.Duration(newCfg.PluginImportTimeoutSec) * time.Second)
		sessionMgr.ApplyConfig(newCfg)
		if err := loggerMgr.Update(newCfg); err != nil {
			log.Printf("[config][warn] update logger failed: %v", err)
		}
	})
	app.server = &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           app.mainMux(),
	}
	return app, nil
}

// mainMux routes the API and the OpenAPI document. WriteTimeout stays unset
// on the server because session event streams are long-lived.
func (a *App) mainMux() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean(r.URL.Path)
		if clean == "." {
			clean = "/"
		}

		if strings.HasPrefix(clean, a.cfg.APIBase+"/") || clean == a.cfg.APIBase {
			a.apiHandler.ServeHTTP(w, r)
			return
		}

		if clean == "/openapi.json" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(a.openapiJSON)
			return
		}
		http.NotFound(w, r)
	})
}

// Handler exposes the root handler for in-process use.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Run() error {
	a.cfgManager.StartWatching()
	a.maintenance.Start()
	log.Printf("danmakud listening on %s (api %s, %d routes)", a.cfg.ListenAddr, a.cfg.APIBase, len(a.routes))
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cfgManager.StopWatching()
	a.maintenance.Stop()
	a.sessions.Shutdown()
	shutdownErr := a.server.Shutdown(ctx)
	a.plugins.Shutdown(ctx)
	closeErr := a.store.Close()
	if a.logger != nil {
		_ = a.logger.Close()
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	return closeErr
}

func (a *App) RouteList() []router.Route {
	items := make([]router.Route, len(a.routes))
	copy(items, a.routes)
	return items
}
