package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"campusid.org/internal/config"
	"campusid.org/internal/delivery"
	"campusid.org/internal/httpapi"
	"campusid.org/internal/identity"
	"campusid.org/internal/oauth"
	"campusid.org/internal/obs"
	"campusid.org/internal/ratelimit"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("BUILD_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		limiter = ratelimit.NewLimiter(redis.NewClient(redisOpts))
	}

	opts := []identity.ServiceOption{
		identity.WithIssuer(cfg.TokenIssuer),
		identity.WithSessionTTL(cfg.SessionTTL),
		identity.WithCodeTTL(identity.PurposeVerifyEmail, cfg.EmailCodeTTL),
		identity.WithCodeTTL(identity.PurposeVerifyPhone, cfg.PhoneCodeTTL),
		identity.WithCodeTTL(identity.PurposePasswordReset, cfg.ResetCodeTTL),
		identity.WithInvitationTTL(cfg.InvitationTTL),
		identity.WithBaseURL(cfg.BaseURL),
	}
	if cfg.Email.Enabled() {
		opts = append(opts, identity.WithDeliverer(delivery.NewSender(cfg.Email)))
	}

	svc, err := identity.NewService(identity.NewPGStore(db), cfg.AuthSecret, opts...)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}
	cancel()

	var google httpapi.CodeExchanger
	if cfg.Google.Enabled() {
		google = oauth.NewGoogle(cfg.Google)
	}

	api := httpapi.New(httpapi.Options{
		Service:       svc,
		Limiter:       limiter,
		Google:        google,
		Probe:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting campusid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Println("Stopped")
}
