package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/LinkSwift/config"
	appmodel "github.com/sifan077/LinkSwift/internal/app/model"
	apprepository "github.com/sifan077/LinkSwift/internal/app/repository"
	appserver "github.com/sifan077/LinkSwift/internal/app/server"
	appservice "github.com/sifan077/LinkSwift/internal/app/service"
	"github.com/sifan077/LinkSwift/internal/auth"
	"github.com/sifan077/LinkSwift/internal/http/middleware"
	httpUtil "github.com/sifan077/LinkSwift/internal/http/util"
	"github.com/sifan077/LinkSwift/internal/infra/logger"
	infraNATS "github.com/sifan077/LinkSwift/internal/infra/nats"
	infraPostgres "github.com/sifan077/LinkSwift/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/LinkSwift/internal/infra/prometheus"
	infraRedis "github.com/sifan077/LinkSwift/internal/infra/redis"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("base_url", cfg.App.BaseURL),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.String("private_access", cfg.Links.PrivateAccess),
	)

	location, err := time.LoadLocation(cfg.Links.Timezone)
	if err != nil {
		log.Fatal("Invalid analytics timezone", zap.String("timezone", cfg.Links.Timezone), zap.Error(err))
	}

	gormDB, err := infraPostgres.NewGorm(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Link{}, &appmodel.ClickEvent{}); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infraPrometheus.NewMetrics(registry)

	linkRepo := apprepository.NewLinkRepository(gormDB)
	linkCache := apprepository.NewLinkCache(redisClient, cfg.Redis.OpTimeout)

	keyFilter := appservice.NewKeyFilter(1_000_000, 0.01)
	if keys, err := linkRepo.ActiveKeys(ctx, time.Now().UTC()); err != nil {
		log.Warn("Failed to seed key filter", zap.Error(err))
	} else {
		keyFilter.Seed(keys)
		log.Info("Key filter seeded", zap.Int("keys", len(keys)))
	}

	var publisher appservice.ClickEventPublisher
	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer func(conn *nats.Conn) { _ = conn.Drain() }(natsConn)
		log.Info("Connected to NATS successfully", zap.String("url", infraNATS.URL(cfg.NATS)))

		if err := appservice.EnsureClickStream(js); err != nil {
			log.Fatal("Failed to create click stream", zap.Error(err))
		}
		publisher = appservice.NewClickPublisher(js)

		consumer := appservice.NewClickConsumer(js, logger.Named(log, "click-consumer"), apprepository.NewClickEventRepository(gormDB))
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start click consumer", zap.Error(err))
		}
	} else {
		log.Info("NATS disabled, click events are not streamed")
	}

	recorder := appservice.NewAnalyticsRecorder(appservice.AnalyticsDeps{
		Links:     linkRepo,
		Cache:     linkCache,
		Publisher: publisher,
		Logger:    logger.Named(log, "analytics"),
		Metrics:   metrics,
	}, appservice.AnalyticsConfig{
		Location:       location,
		DebounceWindow: cfg.Links.DebounceWindow,
		RecentIPLimit:  cfg.Links.RecentIPLimit,
	})

	frontend := strings.TrimRight(cfg.App.FrontendURL, "/")
	loginURL := frontend + "/login"

	linkService := appservice.NewLinkService(appservice.LinkServiceDeps{
		Links:     linkRepo,
		Cache:     linkCache,
		Keys:      appservice.NewKeyGenerator(cfg.Links.KeyBytes),
		Filter:    keyFilter,
		Hasher:    appservice.NewBcryptHasher(0),
		Analytics: recorder,
		Logger:    logger.Named(log, "links"),
		Metrics:   metrics,
	}, appservice.LinkPolicy{
		BaseURL:           cfg.App.BaseURL,
		DefaultExpireDays: cfg.Links.DefaultExpireDays,
		MinPasswordLength: cfg.Links.MinPasswordLength,
		CacheTTLCeiling:   cfg.Links.CacheTTLCeiling,
		StoreTimeout:      cfg.Postgres.OpTimeout,
		PrivateAccess:     appmodel.Access(cfg.Links.PrivateAccess),
		Hints: appservice.RedirectHints{
			LoginURL:     loginURL,
			PasswordURL:  "/password/",
			HandshakeURL: "/handshake/",
		},
	})

	sweeper := appservice.NewExpirySweeper(logger.Named(log, "sweeper"), linkRepo, linkCache, cfg.Links.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	grantSecret := []byte(cfg.App.GrantSecret)
	if len(grantSecret) == 0 {
		grantSecret = make([]byte, 32)
		if _, err := rand.Read(grantSecret); err != nil {
			log.Fatal("Failed to generate grant secret", zap.Error(err))
		}
		log.Warn("GRANT_SECRET not set, handshake grants will not survive a restart")
	}
	if cfg.App.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every request is anonymous")
	}

	promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
	go func() {
		log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
	defer func() {
		if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Failed to close Prometheus server", zap.Error(err))
		}
	}()

	server := appserver.New(appserver.Dependencies{
		Logger:      logger.Named(log, "http"),
		Postgres:    pool,
		Redis:       redisClient,
		Cache:       linkCache,
		LinkService: linkService,
		Verifier:    auth.NewVerifier([]byte(cfg.App.JWTSecret)),
		Grants:      httpUtil.NewGrantSigner(grantSecret, cfg.Links.HandshakeGrantTTL),
		RateLimit: &middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		},
	}, appserver.Options{
		BaseURL:      cfg.App.BaseURL,
		LoginURL:     loginURL,
		CORSOrigin:   cfg.App.CORSOrigin,
		SecureCookie: cfg.App.Production(),
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shut down HTTP server", zap.Error(err))
		}
	}()

	log.Info("Starting HTTP server", zap.String("addr", cfg.App.ListenAddr))
	if err := server.Listen(cfg.App.ListenAddr); err != nil {
		log.Error("Fiber server exited", zap.Error(err))
	}
}
