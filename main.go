package main

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	assignmentapp "qhome-metering/internal/assignments/application"
	assignmentrepo "qhome-metering/internal/assignments/infrastructure/postgres"
	assignmenthttp "qhome-metering/internal/assignments/interfaces/http"
	"qhome-metering/internal/audit"
	"qhome-metering/internal/auth"
	"qhome-metering/internal/coverage"
	cycleapp "qhome-metering/internal/cycles/application"
	cyclerepo "qhome-metering/internal/cycles/infrastructure/postgres"
	cyclehttp "qhome-metering/internal/cycles/interfaces/http"
	"qhome-metering/internal/eventing"
	"qhome-metering/internal/masterdata/cache"
	masterdatarepo "qhome-metering/internal/masterdata/infrastructure/postgres"
	masterdatahttp "qhome-metering/internal/masterdata/interfaces/http"
	meterapp "qhome-metering/internal/metering/application"
	meterrepo "qhome-metering/internal/metering/infrastructure/postgres"
	meterhttp "qhome-metering/internal/metering/interfaces/http"
	"qhome-metering/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("db ping failed", zap.Error(err))
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	var publisher eventing.Publisher = eventing.NopPublisher{}
	if cfg.AMQPURL != "" {
		conn, err := eventing.NewConnection(cfg.AMQPURL, logger)
		if err != nil {
			logger.Warn("amqp connect failed, events disabled", zap.Error(err))
		} else {
			defer conn.Close()
			amqpPublisher, err := eventing.NewAMQPPublisher(conn, cfg.AMQPExchange, logger)
			if err != nil {
				logger.Warn("amqp publisher setup failed, events disabled", zap.Error(err))
			} else {
				publisher = amqpPublisher
			}
		}
	}

	buildingRepo := masterdatarepo.NewBuildingRepository(db)
	unitRepo := masterdatarepo.NewUnitRepository(db)
	residentRepo := masterdatarepo.NewResidentRepository(db)
	serviceRepo := masterdatarepo.NewServiceRepository(db)
	cycleRepo := cyclerepo.NewCycleRepository(db)
	meterRepo := meterrepo.NewMeterRepository(db)
	readingRepo := meterrepo.NewReadingRepository(db)
	assignmentRepo := assignmentrepo.NewAssignmentRepository(db)

	var residents meterapp.ResidentLookup = residentRepo
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		residentCache, err := cache.NewResidentCache(residentRepo, redisClient, cfg.ResidentCacheTTL, logger)
		if err != nil {
			logger.Warn("resident cache setup failed, using direct lookups", zap.Error(err))
		} else {
			residents = residentCache
		}
	}

	cycleService, err := cycleapp.NewCycleService(cycleRepo, logger,
		cycleapp.WithAssignmentCounter(assignmentRepo),
		cycleapp.WithPublisher(publisher),
		cycleapp.WithAuditor(auditRepo))
	if err != nil {
		logger.Fatal("cycle service setup failed", zap.Error(err))
	}

	meterService, err := meterapp.NewMeterService(meterRepo, unitRepo, logger,
		meterapp.WithResidentLookup(residents),
		meterapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatal("meter service setup failed", zap.Error(err))
	}

	readingService, err := meterapp.NewReadingService(readingRepo, meterRepo, cycleRepo, logger,
		meterapp.WithReadingPublisher(publisher))
	if err != nil {
		logger.Fatal("reading service setup failed", zap.Error(err))
	}

	assignmentService, err := assignmentapp.NewAssignmentService(assignmentRepo, cycleRepo, unitRepo, readingRepo, logger,
		assignmentapp.WithPublisher(publisher),
		assignmentapp.WithAuditor(auditRepo))
	if err != nil {
		logger.Fatal("assignment service setup failed", zap.Error(err))
	}

	coverageService, err := coverage.NewService(cycleRepo, serviceRepo, meterRepo, assignmentRepo, residents, logger)
	if err != nil {
		logger.Fatal("coverage service setup failed", zap.Error(err))
	}

	serviceHandler, err := masterdatahttp.NewServiceHandler(serviceRepo)
	if err != nil {
		logger.Fatal("service handler setup failed", zap.Error(err))
	}
	buildingHandler, err := masterdatahttp.NewBuildingHandler(buildingRepo, unitRepo, auth.NewBuildingChecker(db))
	if err != nil {
		logger.Fatal("building handler setup failed", zap.Error(err))
	}
	cycleHandler, err := cyclehttp.NewCycleHandler(cycleService, coverageService)
	if err != nil {
		logger.Fatal("cycle handler setup failed", zap.Error(err))
	}
	meterHandler, err := meterhttp.NewMeterHandler(meterService)
	if err != nil {
		logger.Fatal("meter handler setup failed", zap.Error(err))
	}
	readingHandler, err := meterhttp.NewReadingHandler(readingService)
	if err != nil {
		logger.Fatal("reading handler setup failed", zap.Error(err))
	}
	assignmentHandler, err := assignmenthttp.NewAssignmentHandler(assignmentService, cycleRepo)
	if err != nil {
		logger.Fatal("assignment handler setup failed", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/services", serviceHandler)
	mux.Handle("/api/services/", serviceHandler)
	mux.Handle("/api/buildings", buildingHandler)
	mux.Handle("/api/buildings/", buildingHandler)
	mux.Handle("/api/reading-cycles", cycleHandler)
	mux.Handle("/api/reading-cycles/", cycleHandler)
	mux.Handle("/api/meters", meterHandler)
	mux.Handle("/api/meters/", meterHandler)
	mux.Handle("/api/meter-readings", readingHandler)
	mux.Handle("/api/meter-readings/", readingHandler)
	mux.Handle("/api/meter-reading-assignments", assignmentHandler)
	mux.Handle("/api/meter-reading-assignments/", assignmentHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
	logger.Fatal("server stopped", zap.Error(server.ListenAndServe()))
}

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	JWTSecret        string
	RedisAddr        string
	RedisPassword    string
	ResidentCacheTTL time.Duration
	AMQPURL          string
	AMQPExchange     string
	LogLevel         string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RedisAddr:        getenvDefault("REDIS_ADDR", ""),
		RedisPassword:    getenvDefault("REDIS_PASSWORD", ""),
		ResidentCacheTTL: getenvDuration("RESIDENT_CACHE_TTL", 5*time.Minute),
		AMQPURL:          getenvDefault("AMQP_URL", ""),
		AMQPExchange:     getenvDefault("AMQP_EXCHANGE", "qhome.metering"),
		LogLevel:         getenvDefault("LOG_LEVEL", "info"),
	}
	if cfg.DatabaseURL == "" {
		panic("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		panic("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func buildLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if parsed, err := zap.ParseAtomicLevel(level); err == nil {
		zapCfg.Level = parsed
	}
	return zapCfg.Build()
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTP(r.Method, resp.status, elapsed)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", elapsed))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
