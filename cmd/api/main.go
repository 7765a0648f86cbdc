package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"identra.org/internal/config"
	"identra.org/internal/httpapi"
	"identra.org/internal/identity"
	"identra.org/internal/notify"
	"identra.org/internal/obs"
	"identra.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	var db *sql.DB
	var store identity.Store
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Error("open db", slog.Any("error", err))
			os.Exit(1)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = identity.NewPGStore(db)
	} else {
		log.Warn("no IDENTRA_PG_DSN configured, using in-memory store")
		store = identity.NewMemoryStore()
	}

	// Redis, when configured, takes over the two token stores.
	if cfg.Redis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis})
		tokens := identity.NewRedisTokenStore(rdb)
		store = identity.SplitStore{
			Base:          store,
			Verifications: tokens.Verifications(),
			Refresh:       tokens.RefreshTokens(),
		}
		defer rdb.Close()
	}

	var notifier identity.Notifier = notify.NewLogSink(log)
	if len(cfg.KafkaBrokers) > 0 {
		sink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer sink.Close()
		notifier = sink
	}

	codec, err := token.NewCodec(cfg.JWTKey, "identra")
	if err != nil {
		log.Error("token codec", slog.Any("error", err))
		os.Exit(1)
	}

	svc := identity.NewService(store,
		identity.WithNotifier(notifier),
		identity.WithBaseURL(cfg.BaseURL),
		identity.WithLockoutPolicy(identity.NewLockoutPolicy(cfg.LockoutThreshold)),
		identity.WithConfirmTTL(cfg.ConfirmTTL),
		identity.WithUnlockTTL(cfg.UnlockTTL),
		identity.WithResetTTL(cfg.ResetTTL),
	)
	sessions := identity.NewSessionService(store, codec, svc,
		identity.WithAccessTTL(cfg.AccessTTL),
		identity.WithRefreshTTL(cfg.RefreshTTL),
	)

	apiOpts := []httpapi.Option{}
	if cfg.CaptchaSecret != "" && cfg.CaptchaURL != "" {
		apiOpts = append(apiOpts, httpapi.WithCaptcha(
			httpapi.NewRemoteVerifier(cfg.CaptchaSecret, cfg.CaptchaURL)))
	}
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, sessions, codec, apiOpts...)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting identra-api",
		slog.String("version", version),
		slog.String("addr", srv.Addr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
