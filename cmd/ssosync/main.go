package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ssosync/pkg/async"
	"github.com/platinummonkey/ssosync/pkg/auth"
	"github.com/platinummonkey/ssosync/pkg/config"
	"github.com/platinummonkey/ssosync/pkg/httputil"
	"github.com/platinummonkey/ssosync/pkg/middleware"
	"github.com/platinummonkey/ssosync/pkg/notify"
	"github.com/platinummonkey/ssosync/pkg/observability"
	"github.com/platinummonkey/ssosync/pkg/revocation"
	"github.com/platinummonkey/ssosync/pkg/session"
	"github.com/platinummonkey/ssosync/pkg/sso"
)

var version = "dev"

const maxRequestBytes = 1 << 20

var (
	configFile   = flag.String("config", os.Getenv(config.EnvConfigFile), "Path to the YAML configuration file")
	checkConfig  = flag.Bool("check-config", false, "Validate the configuration and provider settings, then exit")
	printVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		log.Fatalf("ssosync: %v", err)
	}
}

// app holds the wired components
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	redis        *redis.Client
	table        *auth.SessionTable
	clients      *auth.ClientStore
	revoker      *revocation.Client
	connections  *notify.Registry
	coordinator  *sso.Coordinator
	orchestrator *sso.Orchestrator
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if *checkConfig {
		logger.WithFields(map[string]interface{}{
			"provider":        a.revoker.Provider().Name(),
			"default_logout":  cfg.Logout.DefaultMode,
			"rate_limit":      cfg.RateLimit.Enabled,
			"redis":           a.redis != nil,
			"metrics_enabled": cfg.Observability.MetricsEnabled,
		}).Info("Configuration is valid")
		return nil
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("context", func(context.Context) error {
		cancel()
		return nil
	})

	shutdownTracing, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.Register("tracing", shutdownTracing)

	if a.redis != nil {
		shutdown.Register("redis", func(context.Context) error { return a.redis.Close() })
	}

	handler, err := a.routes()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           a.healthMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("http server", server.Shutdown)

	scheduler, err := a.scheduleJobs(ctx)
	if err != nil {
		return err
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("SSO server listening")
		return listen(server)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return listen(healthServer)
	})
	g.Go(func() error {
		return config.Watch(gctx, cfg.Path, logger, func(next *config.Config) {
			logger.SetLevel(next.Observability.Level())
			logger.WithField("log_level", next.Observability.LogLevel).Info("Configuration reloaded")
		})
	})
	g.Go(func() error {
		return shutdown.WaitForSignal(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ssosync stopped")
	return nil
}

func listen(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Observability.MetricsEnabled {
		a.metrics = observability.NewMetrics(a.registry)
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts.PoolSize = cfg.Redis.PoolSize
		opts.DialTimeout = cfg.Redis.DialTimeout
		opts.ReadTimeout = cfg.Redis.ReadTimeout
		opts.WriteTimeout = cfg.Redis.WriteTimeout
		a.redis = redis.NewClient(opts)
	}

	revoker, err := revocation.New(ctx, revocation.Config{
		Kind:           cfg.Provider.Kind,
		ClientID:       cfg.Provider.ClientID,
		ClientSecret:   cfg.Provider.ClientSecret,
		APIBaseURL:     cfg.Provider.APIBaseURL,
		IssuerURL:      cfg.Provider.IssuerURL,
		UserAgent:      cfg.Provider.UserAgent,
		ConnectTimeout: cfg.Provider.ConnectTimeout,
		ReadTimeout:    cfg.Provider.ReadTimeout,
	}, logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocation client: %w", err)
	}
	a.revoker = revoker

	a.table = auth.NewSessionTable(cfg.Logout.MaxSessionsPerUser)
	a.clients = auth.NewClientStore()
	a.connections = notify.NewRegistry(logger, a.metrics)
	a.coordinator = sso.NewCoordinator(session.NewRegistry(a.table, logger), a.connections, revoker, logger, a.metrics)
	a.orchestrator = sso.NewOrchestrator(a.coordinator, a.table, a.clients, revoker, a.connections, sso.OrchestratorConfig{
		RegistrationID:      cfg.Provider.RegistrationID,
		ManualRevocationURL: cfg.Provider.ManualRevocationURL,
	}, logger, a.metrics)
	return a, nil
}

// oauth2Endpoint prefers explicit URLs, then the discovered OIDC endpoint,
// then GitHub's well-known one.
func (a *app) oauth2Endpoint() oauth2.Endpoint {
	p := a.cfg.Provider
	if p.AuthURL != "" && p.TokenURL != "" {
		return oauth2.Endpoint{AuthURL: p.AuthURL, TokenURL: p.TokenURL}
	}
	if oidc, ok := a.revoker.Provider().(*revocation.OIDCProvider); ok {
		return oidc.Endpoint()
	}
	return github.Endpoint
}

func (a *app) limiter() middleware.Limiter {
	rl := a.cfg.RateLimit
	limiterCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: rl.RequestsPerMinute,
		WindowDuration:    rl.Window,
		BurstSize:         rl.Burst,
		MaxKeys:           rl.MaxTrackedClients,
	}
	if a.redis != nil {
		return middleware.NewDistributedRateLimiter(a.redis, limiterCfg, "")
	}
	return middleware.NewRateLimiter(limiterCfg)
}

func (a *app) routes() (http.Handler, error) {
	cfg := a.cfg

	defaultScope, err := sso.ParseLogoutScope(cfg.Logout.DefaultMode, sso.ScopeComplete)
	if err != nil {
		return nil, err
	}

	login := sso.NewLoginFlow(sso.LoginConfig{
		OAuth2: &oauth2.Config{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			Endpoint:     a.oauth2Endpoint(),
			RedirectURL:  cfg.Provider.RedirectURL,
			Scopes:       cfg.Provider.Scopes,
		},
		RegistrationID: cfg.Provider.RegistrationID,
		CookieName:     cfg.Server.SessionCookieName,
		SecureCookies:  cfg.Server.SecureCookies,
		RedirectTo:     cfg.Server.PostLoginRedirect,
	}, a.table, a.clients, a.revoker, sso.RegisterOnLogin(a.coordinator), a.logger)

	push := notify.NewHandler(a.connections, a.logger, notify.HandlerOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		QueueSize:      cfg.Logout.NotificationQueueSize,
		WriteTimeout:   cfg.Logout.NotificationWriteTimeout,
		Identify:       sso.PushIdentity,
	})

	handlers := sso.NewHandlers(sso.Dependencies{
		Orchestrator: a.orchestrator,
		Coordinator:  a.coordinator,
		Connections:  a.connections,
		Tokens:       a.clients,
		Inspector:    a.revoker,
		Login:        login,
		Push:         push,
	}, sso.HandlersConfig{
		CookieName:     cfg.Server.SessionCookieName,
		SecureCookies:  cfg.Server.SecureCookies,
		DefaultScope:   defaultScope,
		RegistrationID: cfg.Provider.RegistrationID,
	}, a.logger)

	router := mux.NewRouter()
	if a.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	}
	router.Use(middleware.NewSessionMiddleware(a.table, cfg.Server.SessionCookieName, cfg.Provider.RegistrationID, true, a.logger).Handler)

	var apiMiddleware []mux.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		limiter := a.limiter()
		a.logger.WithField("limiter", limiter.Name()).Info("Rate limiting enabled")
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(limiter, a.metrics, a.logger))
	}
	handlers.RegisterRoutes(router, apiMiddleware...)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(a.logger),
		httputil.LoggingMiddleware(a.logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)
	return otelhttp.NewHandler(chain(router), "ssosync"), nil
}

func (a *app) healthMux() *http.ServeMux {
	checker := observability.NewHealthChecker(a.redis, version)
	checker.RegisterStat("tracked_sessions", a.coordinator.TrackedSessions)
	checker.RegisterStat("framework_sessions", a.table.Len)
	checker.RegisterStat("websocket_connections", a.connections.ActiveCount)

	serveMux := http.NewServeMux()
	observability.RegisterHealthRoutes(serveMux, checker)
	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(serveMux, a.registry)
	}
	return serveMux
}

// scheduleJobs registers the periodic maintenance jobs. Overlapping runs of
// the same job are skipped.
func (a *app) scheduleJobs(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	logout := a.cfg.Logout

	if _, err := c.AddFunc(logout.CleanupSchedule, func() {
		<-async.SafeGo(ctx, a.logger, logout.CleanupTimeout, "session cleanup", func(ctx context.Context) error {
			_, err := a.coordinator.CleanupExpiredSessions(ctx)
			return err
		})
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule session cleanup: %w", err)
	}

	if _, err := c.AddFunc(logout.HeartbeatSchedule, func() {
		if n := a.connections.SendHeartbeat(); n > 0 {
			a.logger.WithField("connections", n).Debug("Heartbeat sent")
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	if _, err := c.AddFunc(logout.ConnectionCleanupSchedule, func() {
		a.connections.CleanupClosed()
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule connection cleanup: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"cleanup":            logout.CleanupSchedule,
		"heartbeat":          logout.HeartbeatSchedule,
		"connection_cleanup": logout.ConnectionCleanupSchedule,
	}).Info("Maintenance jobs scheduled")
	return c, nil
}
