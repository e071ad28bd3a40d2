package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"copydesk/api/internal/advisor"
	"copydesk/api/internal/app"
	"copydesk/api/internal/authpw"
	"copydesk/api/internal/cache"
	"copydesk/api/internal/config"
	"copydesk/api/internal/content"
	"copydesk/api/internal/dispatch"
	"copydesk/api/internal/gitrepo"
	"copydesk/api/internal/imagestore"
	"copydesk/api/internal/notify"
	"copydesk/api/internal/scraper"
	"copydesk/api/internal/search"
	"copydesk/api/internal/session"
	"copydesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	contentCache := cache.NewWithClient(redisClient, cfg.CacheTTL)
	limiter := cache.NewRateLimiter(redisClient, cfg.RateLimit, cfg.RateWindow)
	sessions := session.NewRedisStoreWithClient(redisClient)

	repo := gitrepo.New(gitrepo.Config{
		RemoteURL:   cfg.GitRemoteURL,
		Branch:      cfg.GitBranch,
		CloneDir:    cfg.GitCloneDir,
		Token:       cfg.GitToken,
		AuthorName:  cfg.GitAuthor,
		AuthorEmail: cfg.GitEmail,
	})
	if err := repo.EnsureFresh(ctx); err != nil {
		log.Printf("WARNING: initial repository sync failed (will retry per request): %v", err)
	}

	reader := content.NewService(repo, contentCache)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewScan(reader))

	var images *imagestore.Store
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		images, err = imagestore.New(ctx, imagestore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	}

	notifier := notify.NewService(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var draftImages dispatch.ImageStore
	if images != nil {
		draftImages = images
	}
	dispatcher := dispatch.New(repo, reader, dataStore, dataStore, contentCache, searchService, scraper.New(), draftImages)

	var loop *dispatch.Loop
	if strings.TrimSpace(cfg.OpenAIKey) != "" {
		responder := advisor.New(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel)
		loop = dispatch.NewLoop(responder, dispatcher, cfg.MaxFollowUps)
	} else {
		log.Printf("WARNING: no model API key configured, assistant endpoints disabled")
	}

	service := app.New(cfg, app.Deps{
		Store:      dataStore,
		Sessions:   sessions,
		Auth:       authpw.NewService(dataStore, cfg.JWTSecret),
		Notify:     notifier,
		Repo:       repo,
		Content:    reader,
		Search:     searchService,
		Cache:      contentCache,
		Limiter:    limiter,
		Images:     images,
		Dispatcher: dispatcher,
		Loop:       loop,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	if meiliClient != nil {
		go func() {
			if err := service.ReindexSearch(context.Background()); err != nil {
				log.Printf("WARNING: initial search reindex failed: %v", err)
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Copydesk API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
