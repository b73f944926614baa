package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"readshelf/internal/ratelimit"
	"readshelf/internal/usertoken"
	"readshelf/internal/util"
	"readshelf/pkg/storage"
	"readshelf/pkg/store"
	"readshelf/services/book/internal/app"
	"readshelf/services/book/internal/config"
	"readshelf/services/book/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	uploads, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}
	var jobs store.ImportJobStore
	switch cfg.ProgressBackend {
	case config.ProgressPostgres:
		jobs = store.NewGormImportJobStore(db)
	default:
		jobs = store.NewRedisImportJobStore(redisClient, cfg.RedisKeyPrefix)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		PublicKeyPath: cfg.JWTPublicKeyPath,
		JWKSURL:       cfg.JWTJWKSURL,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		Leeway:        time.Duration(cfg.JWTLeewaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	appCore, err := app.New(app.Config{
		Books:        store.NewGormBookStore(db),
		Jobs:         jobs,
		Uploads:      uploads,
		UploadURLTTL: time.Duration(cfg.UploadURLTTLSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	serverCfg := server.Config{App: appCore, TokenVerifier: tokenVerifier}
	if cfg.ImportRateLimit > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "", cfg.ImportRateLimit, time.Minute)
		if err != nil {
			log.Fatalf("failed to init import rate limiter: %v", err)
		}
		serverCfg.ImportLimiter = limiter
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("book server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
