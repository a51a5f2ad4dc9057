package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taxdesk/internal/compliance"
	"taxdesk/internal/document"
	"taxdesk/internal/export"
	"taxdesk/internal/extraction"
	"taxdesk/internal/extraction/oracle"
	"taxdesk/internal/extraction/schema"
	"taxdesk/internal/fileupload"
	"taxdesk/internal/handler"
	"taxdesk/internal/middleware"
	"taxdesk/internal/pdf"
	"taxdesk/internal/repository/postgres"
	"taxdesk/internal/scheduler"
	"taxdesk/pkg/cache"
	"taxdesk/pkg/clock"
	"taxdesk/pkg/config"
	"taxdesk/pkg/logger"
	"taxdesk/pkg/mailer"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewWithLevel("taxdesk-api", cfg.LogLevel)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting taxdesk API", map[string]interface{}{
		"port":     cfg.Server.Port,
		"provider": cfg.Extraction.Provider,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	log.Info("Database connected", nil)

	// Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Redis connected", nil)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Repositories and storage
	clientRepo := postgres.NewClientRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)
	storage := fileupload.NewLocalStorageProvider(
		fileupload.DefaultLocalStorageConfig(cfg.Storage.BasePath, cfg.Storage.MaxFileSize), log)

	// Extraction
	orc, closeOracle, err := oracle.New(context.Background(), cfg.Extraction, log)
	if err != nil {
		log.Fatal("Failed to initialise extraction oracle", map[string]interface{}{"error": err.Error()})
	}
	defer closeOracle()

	pdfTools := pdf.NewTools(pdf.Config{
		Pdftotext:     cfg.Extraction.PdftotextBin,
		Pdftoppm:      cfg.Extraction.PdftoppmBin,
		Pdfimages:     cfg.Extraction.PdfimagesBin,
		DPI:           cfg.Extraction.RasterDPI,
		Workers:       cfg.Extraction.RasterWorkers,
		RasterTimeout: cfg.Extraction.RasterTimeout,
	}, pdf.NewExecRunner(log), log)

	pipeline := extraction.NewPipeline(storage, pdfTools, orc, schema.MustDefault(), extraction.Options{
		ConfidenceThreshold: cfg.Extraction.ConfidenceThreshold,
		OracleTimeout:       cfg.Extraction.OracleTimeout,
		Clock:               clock.Real(),
		Metrics:             extraction.NewMetrics(registry),
	}, log)

	// Services
	documentService := document.NewService(documentRepo, clientRepo, storage, pipeline, document.Options{
		MaxFileSize: cfg.Storage.MaxFileSize,
		RunTimeout:  cfg.Extraction.RunTimeout,
	}, log)
	queue := document.NewQueue(documentService, log,
		document.WithWorkers(cfg.Extraction.QueueWorkers),
		document.WithQueueSize(cfg.Extraction.QueueSize),
	)
	documentService.SetQueue(queue)

	var reportCache compliance.ReportCache
	if !cfg.Compliance.ReportCacheDisabled {
		reportCache = cache.NewFromClient(redisClient)
	}
	complianceService := compliance.NewService(
		compliance.NewEngine(compliance.PolicyFromConfig(cfg.Compliance)),
		clientRepo, reportCache, cfg.Compliance.ReportCacheTTL, clock.Real(), log)
	exportService := export.NewService(complianceService, log)

	// Digest scheduler
	var digest *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		m := mailer.New(mailer.Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.SMTPFrom,
			UseTLS:   cfg.Email.SMTPUseTLS,
		})
		digest = scheduler.NewScheduler(complianceService, m, splitRecipients(cfg.Scheduler.DigestRecipient), cfg.Scheduler.Interval, log)
		digest.Start()
	}

	// Router
	r := mux.NewRouter()

	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	handler.NewSystemHandler(map[string]handler.Pinger{
		"postgres": db,
		"redis":    handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}, registry, log).Register(r)

	runLimiter := middleware.NewRateLimiter(redisClient, "runs", cfg.Server.RunRateLimit, time.Minute, log)
	idempotency := middleware.NewIdempotencyMiddleware(redisClient, cfg.Server.IdempotencyTTL, false, log)

	api := r.PathPrefix("/api/v1").Subrouter()
	handler.NewComplianceHandler(complianceService, exportService, log).Register(api)
	handler.NewClientHandler(clientRepo, log).Register(api)
	handler.NewDocumentHandler(documentService, cfg.Storage.MaxFileSize, log).Register(api, handler.DocumentRoutes{
		Runs: func(next http.Handler) http.Handler {
			return runLimiter.Limit(idempotency.Require(next))
		},
		Uploads: idempotency.Require,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("taxdesk API started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down taxdesk API...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if digest != nil {
		digest.Stop()
	}
	queue.Shutdown(ctx)

	log.Info("taxdesk API stopped gracefully", nil)
}

func splitRecipients(v string) []string {
	var out []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
