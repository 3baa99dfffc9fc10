package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tendersync/internal/config"
	cronrunner "tendersync/internal/cron"
	"tendersync/internal/db"
	"tendersync/internal/handler"
	"tendersync/internal/logger"
	gormrepo "tendersync/internal/repository/gorm"
	"tendersync/internal/scraper"
	"tendersync/internal/service"
)

func main() {
	cfgPath := os.Getenv("TS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := dbConn.SetTimezone(cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := dbConn.AutoMigrate(); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepo.NewStore(dbConn.Gorm)

	clientCfg := scraper.ClientConfig{
		Timeout:      cfg.HTTP.Timeout,
		Retries:      cfg.HTTP.Retries,
		RetryBackoff: cfg.HTTP.RetryBackoff,
		PageDelay:    cfg.HTTP.PageDelay,
		UserAgent:    cfg.HTTP.UserAgent,
	}
	snapshots := &scraper.SnapshotFetcher{
		Command: cfg.BCBid.SnapshotCommand,
		Dir:     cfg.BCBid.SnapshotDir,
		Timeout: cfg.BCBid.SnapshotTimeout,
		Log:     logger,
	}

	// Registration order is batch order.
	registry := scraper.NewRegistry()
	registry.Register(scraper.NewBarrie(clientCfg, logger))
	registry.Register(scraper.NewWindsor(clientCfg, logger))
	registry.Register(scraper.NewToronto(clientCfg, logger))
	registry.Register(scraper.NewMerxOttawa(clientCfg, logger))
	registry.Register(scraper.NewPEI(clientCfg, logger))
	registry.Register(scraper.NewNovaScotia(clientCfg, logger))
	registry.Register(scraper.NewInfraOntario(clientCfg, logger))
	registry.Register(scraper.NewSaskTenders(clientCfg, logger))
	registry.Register(scraper.NewAlberta(clientCfg, logger))
	registry.Register(scraper.NewKenora(clientCfg, logger))
	registry.Register(scraper.NewBCBid(clientCfg, logger, snapshots))
	registry.Register(scraper.NewOntarioHighways(clientCfg, logger))

	ingester := service.NewIngester(store, logger)
	scrapeDefaults := scraper.Params{}
	if cfg.Scrape.MaxPages > 0 {
		scrapeDefaults["max_pages"] = strconv.Itoa(cfg.Scrape.MaxPages)
	}
	if cfg.Scrape.PageLimit > 0 {
		scrapeDefaults["limit"] = strconv.Itoa(cfg.Scrape.PageLimit)
	}
	scrapeSvc := service.NewScraper(store, registry, ingester, logger, cfg.Scrape.ContinueOnError, scrapeDefaults)
	projectsSvc := service.NewProjects(store, logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	scrapersHandler := &handler.ScrapersHandler{
		Scraper:  scrapeSvc,
		Registry: registry,
		Store:    store,
		Logger:   logger,
	}
	scrapersHandler.Register(engine)
	projectsHandler := &handler.ProjectsHandler{
		Projects: projectsSvc,
		Logger:   logger,
	}
	projectsHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.ScrapeAll, func(ctx context.Context) {
			summary, err := scrapeSvc.RunAll(ctx)
			if err != nil {
				logger.Warn("cron batch scrape failed",
					zap.Strings("ran", summary.Ran),
					zap.Strings("failed", summary.Failed),
					zap.Error(err))
				return
			}
			logger.Info("cron batch scrape ok",
				zap.Strings("ran", summary.Ran),
				zap.Strings("skipped", summary.Skipped),
				zap.Strings("failed", summary.Failed))
		})
		if err != nil {
			logger.Warn("cron register batch scrape failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
