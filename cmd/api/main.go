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

	"redline/internal/app"
	"redline/internal/browser"
	"redline/internal/config"
	"redline/internal/extract"
	"redline/internal/queue"
	"redline/internal/search"
	"redline/internal/storage"
	"redline/internal/store"
	"redline/internal/translate"
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

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()

	jobQueue, err := queue.New(cfg.RedisURL, cfg.DebounceWindow)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer jobQueue.Close()

	var screenshots *storage.Screenshots
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		screenshots, err = storage.New(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("screenshot storage failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT not set, screenshot storage disabled")
	}

	translator := translate.New(cfg.TranslateURL, cfg.TranslateAPIKey, cfg.TranslateTarget)
	if translator == nil {
		log.Printf("translation disabled")
	}

	browserCfg := browser.Config{
		BaseURL:               cfg.ReviewBaseURL,
		Email:                 cfg.ReviewEmail,
		Password:              cfg.ReviewPassword,
		PageLoadTimeout:       cfg.PageLoadTimeout,
		LoginEmailSelector:    cfg.LoginEmailSelector,
		LoginPasswordSelector: cfg.LoginPasswordSelector,
		LoginSubmitSelector:   cfg.LoginSubmitSelector,
		CanvasSelector:        cfg.CanvasSelector,
		SidebarThreadSelector: cfg.SidebarThreadSelector,
		ViewerOpenSelector:    cfg.ViewerOpenSelector,
		ViewerTitleSelector:   cfg.ViewerTitleSelector,
		ViewerNextSelector:    cfg.ViewerNextSelector,
		ViewerImageSelector:   cfg.ViewerImageSelector,
	}

	extractor := extract.NewService(dataStore, browserCfg, uploaderOrNil(screenshots), translatorOrNil(translator), searchService, cfg.MatchSafetyFactor)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	worker := queue.NewWorker(jobQueue, func(ctx context.Context, projectID string) error {
		return extractor.ExtractProject(ctx, projectID)
	})
	go worker.Run(workerCtx)

	service := app.New(cfg, dataStore, jobQueue, searchService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Redline API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// uploaderOrNil avoids handing a typed-nil interface to the extractor.
func uploaderOrNil(s *storage.Screenshots) extract.Uploader {
	if s == nil {
		return nil
	}
	return s
}

func translatorOrNil(c *translate.Client) extract.Translator {
	if c == nil {
		return nil
	}
	return c
}
