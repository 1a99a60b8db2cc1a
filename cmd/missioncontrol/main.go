package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/config"
	"github.com/ashita-ai/mission-control/internal/flag"
	"github.com/ashita-ai/mission-control/internal/mcp"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/ratelimit"
	"github.com/ashita-ai/mission-control/internal/server"
	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/service/approvals"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
	"github.com/ashita-ai/mission-control/internal/service/killswitch"
	"github.com/ashita-ai/mission-control/internal/service/notifications"
	"github.com/ashita-ai/mission-control/internal/service/settings"
	"github.com/ashita-ai/mission-control/internal/service/status"
	"github.com/ashita-ai/mission-control/internal/service/tasks"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/storage/sqlite"
	"github.com/ashita-ai/mission-control/internal/telemetry"
	"github.com/ashita-ai/mission-control/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// store is everything the services and the server need from persistence.
// Both the Postgres and the SQLite store satisfy it.
type store interface {
	killswitch.Store
	auditlog.Store
	approvals.Store
	agents.Store
	settings.Store
	status.Store
	tasks.Store
	notifications.Store
	server.Pinger
	server.Notifications
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("MC_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("mission control starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	st, storeKind, hasChanges, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	keys, err := auth.NewKeyRing(map[model.Role]string{
		model.RoleOperator: cfg.AdminAPIKey,
		model.RoleAgent:    cfg.AgentAPIKey,
		model.RoleReader:   cfg.ReaderAPIKey,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	settingsSvc := settings.New(st, logger)

	// Kill switch enforcement surfaces. Each is optional and best effort.
	notifier, closeNotifier, err := newNotifier(cfg, settingsSvc, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	killSwitch := killswitch.New(st, notifier, cfg.FlagTimeout, logger)
	if _, err := killSwitch.Provision(ctx); err != nil {
		return fmt.Errorf("kill switch: %w", err)
	}
	auditSvc := auditlog.New(st, logger)
	agentSvc := agents.New(st, logger)

	mcpSrv := mcp.New(killSwitch, auditSvc, agentSvc, logger, version)

	var broker *server.Broker
	if hasChanges {
		broker = server.NewBroker(st, logger)
		go broker.Start(ctx)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	rlOpts := ratelimit.Options{PerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}
	if cfg.RateLimitRedis {
		rlOpts.RedisURL = cfg.RedisURL
	}
	limiter, limiterKind, err := ratelimit.New(rlOpts)
	if err != nil {
		return err
	}
	logger.Info("rate limiting", "backend", limiterKind,
		"per_minute", cfg.RateLimitPerMinute, "burst", cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		Store:               st,
		JWTMgr:              jwtMgr,
		Keys:                keys,
		KillSwitch:          killSwitch,
		Audit:               auditSvc,
		Approvals:           approvals.New(st, cfg.MailAgent, logger),
		Agents:              agentSvc,
		Settings:            settingsSvc,
		Status:              status.New(st, logger),
		Tasks:               tasks.New(st, logger),
		Notifications:       notifications.New(st, logger),
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StoreKind:           storeKind,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OperatorName:        cfg.OperatorName,
		KillSwitchPath:      cfg.KillSwitchPath,
		AuthDisabled:        cfg.AuthDisabled,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Stop accepting requests first; in-flight kill switch writes may still
	// start notifications, which are then given their own budget.
	slog.Info("mission control shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	done := make(chan struct{})
	go func() {
		killSwitch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.FlagTimeout + time.Second):
		slog.Warn("kill switch notifications still in flight at exit")
	}

	slog.Info("mission control stopped")
	return nil
}

// openStore connects the configured store. hasChanges reports whether
// change notifications can feed the SSE broker.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (st store, kind string, hasChanges bool, closeFn func(), err error) {
	if cfg.UsesSQLite() {
		dsn, err := sqlite.DSNFromURL(cfg.DatabaseURL)
		if err != nil {
			return nil, "", false, nil, fmt.Errorf("storage: %w", err)
		}
		s, err := sqlite.Open(ctx, dsn, logger)
		if err != nil {
			return nil, "", false, nil, fmt.Errorf("storage: %w", err)
		}
		logger.Info("storage: sqlite", "dsn", dsn)
		return s, "sqlite", true, func() { _ = s.Close() }, nil
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return nil, "", false, nil, fmt.Errorf("storage: %w", err)
	}
	// RunMigrations tracks applied files, so errors here are real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(context.Background())
		return nil, "", false, nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info("storage: postgres", "notify", db.HasNotify())
	return db, "postgres", db.HasNotify(), func() { db.Close(context.Background()) }, nil
}

// newNotifier assembles the configured kill switch side channels. The flag
// file is always wired: MC_KILL_SWITCH_PATH wins, otherwise the
// kill_switch_path setting is read on each transition.
func newNotifier(cfg config.Config, sets *settings.Service, logger *slog.Logger) (killswitch.Notifier, func(), error) {
	closeFn := func() {}
	multi := flag.Multi{flag.FileNotifier{
		Path: cfg.KillSwitchPath,
		Lookup: func(ctx context.Context) (string, error) {
			return sets.String(ctx, model.SettingKillSwitchPath)
		},
	}}
	if cfg.KillSwitchPath != "" {
		logger.Info("kill switch flag: file", "path", cfg.KillSwitchPath)
	} else {
		logger.Info("kill switch flag: file", "path", "from settings")
	}
	if cfg.KillSwitchURL != "" {
		multi = append(multi, flag.HTTPNotifier{URL: cfg.KillSwitchURL, Client: &http.Client{Timeout: cfg.FlagTimeout}})
		logger.Info("kill switch flag: http", "url", cfg.KillSwitchURL)
	}
	if cfg.RedisURL != "" {
		rn, err := flag.NewRedisNotifier(cfg.RedisURL, cfg.RedisKillSwitchKey)
		if err != nil {
			return nil, nil, fmt.Errorf("redis flag: %w", err)
		}
		multi = append(multi, rn)
		closeFn = func() { _ = rn.Close() }
		logger.Info("kill switch flag: redis", "key", cfg.RedisKillSwitchKey)
	}

	return multi, closeFn, nil
}
