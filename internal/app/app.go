package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/alibi/internal/api"
	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/auth"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/grouper"
	"github.com/technosupport/alibi/internal/hub"
	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/ingest"
	"github.com/technosupport/alibi/internal/llm"
	"github.com/technosupport/alibi/internal/metrics"
	"github.com/technosupport/alibi/internal/middleware"
	"github.com/technosupport/alibi/internal/mirror"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/ratelimit"
	"github.com/technosupport/alibi/internal/report"
	"github.com/technosupport/alibi/internal/sim"
	"github.com/technosupport/alibi/internal/store"
	"github.com/technosupport/alibi/internal/tokens"
	"github.com/technosupport/alibi/internal/watchlist"
)

// App owns every long-lived component of the server process.
type App struct {
	Config   *config.Config
	Settings *config.SettingsStore
	Store    *store.Store
	Users    *identity.Store
	Audit    *audit.Logger
	Hub      *hub.Hub
	Mirror   *mirror.Publisher
	Pipeline *ingest.Pipeline
	Sim      *sim.Simulator
	Metrics  *metrics.Collector

	server *http.Server
}

// simIngestor adapts the pipeline to the simulator, which does not care
// about the ingest summary.
type simIngestor struct {
	pipeline *ingest.Pipeline
	metrics  *metrics.Collector
}

func (s *simIngestor) Ingest(ctx context.Context, evt *model.CameraEvent, actor string) error {
	_, err := s.pipeline.Ingest(ctx, evt, actor)
	if err == nil {
		s.metrics.SimulatorEvent()
	}
	return err
}

// New builds the full application from the config file at cfgPath.
// Optional backends (redis, NATS, the LLM) degrade with a warning instead
// of failing startup.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	clk := clock.Real()

	st, err := store.Open(cfg.DataDir, clk)
	if err != nil {
		return nil, err
	}
	settings, err := config.OpenSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(cfg.DataDir, clk)
	if err != nil {
		return nil, err
	}
	users, err := identity.Open(cfg.DataDir, clk)
	if err != nil {
		return nil, err
	}
	secret, err := identity.LoadSigningSecret(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	wl, err := watchlist.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	tokenMgr := tokens.NewManager(secret)
	collector := metrics.New()

	var blacklist auth.TokenBlacklist = auth.NewMemoryBlacklist()
	var limiter ratelimit.LoginLimiter = ratelimit.NewMemoryLimiter()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("redis %s unreachable (%v), using in-memory token blacklist and login limiter", cfg.Redis.Addr, err)
		} else {
			blacklist = auth.NewRedisBlacklist(rdb)
			limiter = ratelimit.NewRedisLimiter(rdb)
		}
	}

	var pub *mirror.Publisher
	if cfg.NATS.URL != "" {
		pub, err = mirror.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Printf("NATS %s unreachable (%v), incident mirror disabled", cfg.NATS.URL, err)
			pub = nil
		}
	}

	var gen *llm.Rewriter
	if cfg.LLM.Enabled {
		gen, err = llm.NewRewriter(cfg.LLM.Model)
		if err != nil {
			log.Printf("LLM rewriter disabled: %v", err)
			gen = nil
		}
	}

	h := hub.New(clk)
	grp := grouper.New(st, func() string { return uuid.NewString()[:8] })

	pipeline := &ingest.Pipeline{
		Store:      st,
		Grouper:    grp,
		Settings:   settings,
		Hub:        h,
		Mirror:     pub,
		Audit:      auditLog,
		Watchlist:  wl,
		Metrics:    collector,
		Clock:      clk,
		LLMTimeout: time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
	}
	if gen != nil {
		pipeline.Generator = gen
	}

	simulator := sim.New(&simIngestor{pipeline: pipeline, metrics: collector}, clk)
	simulator.Settings = settings

	reportBuilder := &report.Builder{
		Store:      st,
		LLMTimeout: pipeline.LLMTimeout,
	}
	if gen != nil {
		reportBuilder.Generator = gen
	}

	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist, users)
	router := api.NewRouter(api.Handlers{
		Auth: &api.AuthHandler{
			Users: users, Tokens: tokenMgr, Audit: auditLog,
			Limiter: limiter, Blacklist: blacklist,
		},
		Users:     &api.UserHandler{Users: users, Audit: auditLog},
		Incidents: &api.IncidentHandler{Pipeline: pipeline, Store: st, Clock: clk, Audit: auditLog},
		Stream:    &api.StreamHandler{Hub: h, Metrics: collector},
		Sim:       &api.SimHandler{Sim: simulator, Audit: auditLog},
		Reports:   &api.ReportHandler{Builder: reportBuilder, Clock: clk},
		Settings:  &api.SettingsHandler{Settings: settings, Audit: auditLog},
		Watchlist: &api.WatchlistHandler{Registry: wl, Audit: auditLog, Clock: clk},
		JWT:       jwtAuth,
		Metrics:   collector,
	})

	return &App{
		Config:   cfg,
		Settings: settings,
		Store:    st,
		Users:    users,
		Audit:    auditLog,
		Hub:      h,
		Mirror:   pub,
		Pipeline: pipeline,
		Sim:      simulator,
		Metrics:  collector,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down in order:
// stop accepting requests, drain the simulator, close the hub (terminal
// shutdown message to every stream), close the stores.
func (a *App) Run(ctx context.Context) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := a.Settings.Watch(watchCtx); err != nil {
		log.Printf("settings file watch disabled: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("alibi server listening on %s", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Sim.Stop(); err != nil && !errors.Is(err, sim.ErrNotRunning) {
		log.Printf("simulator stop: %v", err)
	}
	a.Hub.Close(shutCtx)
	if err := a.server.Shutdown(shutCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if a.Mirror != nil {
		a.Mirror.Close()
	}
	if err := a.Store.Close(); err != nil {
		log.Printf("store close: %v", err)
	}
	return nil
}
