package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/qr-attendance-api/api/swagger"
	"github.com/noah-isme/qr-attendance-api/internal/dashboard"
	"github.com/noah-isme/qr-attendance-api/internal/handler"
	"github.com/noah-isme/qr-attendance-api/internal/middleware"
	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/realtime"
	"github.com/noah-isme/qr-attendance-api/internal/repository"
	"github.com/noah-isme/qr-attendance-api/internal/scanner"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	"github.com/noah-isme/qr-attendance-api/pkg/cache"
	"github.com/noah-isme/qr-attendance-api/pkg/config"
	"github.com/noah-isme/qr-attendance-api/pkg/database"
	"github.com/noah-isme/qr-attendance-api/pkg/jobs"
	"github.com/noah-isme/qr-attendance-api/pkg/logger"
	"github.com/noah-isme/qr-attendance-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/qr-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/qr-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/qr-attendance-api/pkg/storage"
)

// @title QR Attendance API
// @version 1.0.0
// @description School entry and exit registration by QR code
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.School.Location()
	clk := clock.New()
	validate := validator.New()
	metrics := service.NewMetricsService()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	if err := database.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	broker := realtime.NewBroker(64, logr)
	var (
		publisher service.ChangePublisher = broker
		cacheRepo service.CacheRepository
		prefs     scanner.PreferenceStore
	)
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache and scanner preferences", zap.Error(err))
	} else {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		prefs = repository.NewPreferenceRepository(redisClient)
		if cfg.Realtime.RedisEnabled {
			bridge := realtime.NewRedisBridge(redisClient, cfg.Realtime.RedisChannel, broker, logr)
			publisher = bridge
			go func() {
				if err := bridge.Run(ctx); err != nil {
					logr.Warn("change relay stopped", zap.Error(err))
				}
			}()
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cacheRepo != nil)

	studentRepo := repository.NewStudentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	userRepo := repository.NewUserRepository(db).WithClock(clk)
	reportRepo := repository.NewReportRepository(db).WithClock(clk)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "qr-attendance-api",
	}).WithClock(clk)
	studentSvc := service.NewStudentService(studentRepo, publisher, cacheSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, studentRepo, publisher, cacheSvc, metrics, validate, logr, clk, service.AttendanceConfig{
		DuplicateWindow:     cfg.Scanner.DuplicateWindow,
		SuggestionThreshold: cfg.Scanner.SuggestionThreshold,
		Location:            loc,
	})
	notificationSvc := service.NewNotificationService(service.NotificationConfig{
		Enabled:    cfg.Messaging.Enabled,
		Host:       cfg.Messaging.Host,
		SchoolName: cfg.School.Name,
		Rules: messaging.PhoneRules{
			CountryCode:    cfg.Messaging.CountryCode,
			MobilePrefix:   cfg.Messaging.MobilePrefix,
			LandlinePrefix: cfg.Messaging.LandlinePrefix,
		},
		Location: loc,
	}, logr)

	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return fmt.Errorf("init report storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL, clk)
	exportSvc := service.NewExportService(attendanceSvc, studentSvc, files, signer, cacheSvc, service.ExportConfig{
		APIPrefix:  cfg.APIPrefix,
		ResultTTL:  cfg.Reports.SignedURLTTL,
		SchoolName: cfg.School.Name,
		TopN:       cfg.Reports.TopStudents,
		Location:   loc,
	}, logr, clk)
	worker := service.NewReportWorker(reportRepo, exportSvc, metrics, cfg.Reports.WorkerRetries, logr, clk)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		BufferSize: 64,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	reportSvc := service.NewReportService(reportRepo, queue, exportSvc, metrics, validate, logr, clk, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})

	hub := realtime.NewHub(authSvc, cfg.CORS.AllowedOrigins, logr)
	manager := scanner.NewManager(scanner.Deps{
		Camera:     realtime.NewDeviceCamera(hub),
		Students:   studentSvc,
		Attendance: attendanceSvc,
		Feedback:   scanner.NewRateLimitedFeedback(hub, cfg.Scanner.ToneInterval, clk, logr),
		Emitter:    hub,
		Links:      notificationSvc,
		Metrics:    metrics,
		Clock:      clk,
		Logger:     logr,
	}, models.ScannerConfig{
		FPS:                 cfg.Scanner.FPS,
		QRBox:               cfg.Scanner.QRBox,
		Debounce:            cfg.Scanner.Debounce,
		AutoConfirm:         cfg.Scanner.AutoConfirm,
		AutoConfirmDelay:    cfg.Scanner.AutoConfirmDelay,
		DuplicateWindow:     cfg.Scanner.DuplicateWindow,
		SuggestionThreshold: cfg.Scanner.SuggestionThreshold,
	}, prefs, validate, logr)
	defer manager.CloseAll()
	hub.SetDecodeHandler(manager.HandleDeviceDecode)
	go hub.Run(ctx, broker)

	provider := dashboard.NewProvider(studentSvc, attendanceSvc, broker, cacheSvc, metrics, clk, logr, dashboard.Config{
		Location: loc,
		CacheTTL: cfg.Dashboard.CacheTTL,
	})
	if err := provider.Start(ctx); err != nil {
		logr.Warn("dashboard initial load failed", zap.Error(err))
	}

	scheduler := jobs.NewScheduler(loc, logr)
	if _, err := provider.ScheduleRollover(scheduler); err != nil {
		return fmt.Errorf("schedule dashboard rollover: %w", err)
	}
	if err := reportSvc.ScheduleCleanup(scheduler); err != nil {
		return fmt.Errorf("schedule report cleanup: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	queue.Start(ctx)
	defer queue.Stop()
	reportSvc.RecoverPendingJobs(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	var docs gin.HandlerFunc
	if cfg.Env != config.EnvProduction {
		docs = ginSwagger.WrapHandler(swaggerFiles.Handler)
	}
	handler.Register(r, cfg.APIPrefix, authSvc, handler.Routes{
		Auth:       handler.NewAuthHandler(authSvc),
		Students:   handler.NewStudentHandler(studentSvc),
		Attendance: handler.NewAttendanceHandler(attendanceSvc, loc),
		Scanner:    handler.NewScannerHandler(manager),
		Dashboard:  handler.NewDashboardHandler(provider, loc),
		Reports:    handler.NewReportHandler(reportSvc, exportSvc, loc),
		Metrics:    handler.NewMetricsHandler(metrics, readinessChecks(db.PingContext, redisClient)),
		Realtime:   hub.Handle,
		Docs:       docs,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "school", cfg.School.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func readinessChecks(pingDB handler.ReadinessCheck, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{"database": pingDB}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
