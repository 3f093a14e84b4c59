package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-substitute-api/api/swagger"
	"github.com/noah-isme/sma-substitute-api/internal/handler"
	"github.com/noah-isme/sma-substitute-api/internal/middleware"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/internal/repository"
	"github.com/noah-isme/sma-substitute-api/internal/service"
	"github.com/noah-isme/sma-substitute-api/pkg/cache"
	"github.com/noah-isme/sma-substitute-api/pkg/clock"
	"github.com/noah-isme/sma-substitute-api/pkg/config"
	"github.com/noah-isme/sma-substitute-api/pkg/database"
	"github.com/noah-isme/sma-substitute-api/pkg/jobs"
	"github.com/noah-isme/sma-substitute-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-substitute-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-substitute-api/pkg/middleware/requestid"
)

// @title SMA Substitute API
// @version 1.0.0
// @description Leave requests, substitute teacher matching and escalation
// @BasePath /api/v1
// @schemes http
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	var (
		validate = validator.New()
		clk      = clock.Real{}
		tx       = database.NewTxRunner(db)
		metrics  *service.MetricsService
	)
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	teacherRepo := repository.NewTeacherRepository(db)
	lectureRepo := repository.NewLectureRepository(db)
	leaveRepo := repository.NewLeaveRequestRepository(db)
	assignmentRepo := repository.NewSubstituteAssignmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notifications := service.NewNotificationService(notificationRepo, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, metrics, logr.Named("notifications"))
	notifications.Start(ctx)
	defer notifications.Stop()

	matcher := service.NewMatchingService(teacherRepo, lectureRepo, service.MatchingConfig{
		MaxDailyLoad: cfg.Substitution.MaxDailyLoad,
	}, logr.Named("matching"))

	leaves := service.NewLeaveService(service.LeaveServiceDeps{
		Tx:          tx,
		Leaves:      leaveRepo,
		Teachers:    teacherRepo,
		Lectures:    lectureRepo,
		Assignments: assignmentRepo,
		Notifier:    notifications,
		Clock:       clk,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr.Named("leave"),
	}, service.LeaveConfig{
		AutoApproveAfter: cfg.Substitution.LeaveAutoApproveAfter,
		ResponseWindow:   cfg.Substitution.ResponseWindow,
	})

	substitutions := service.NewSubstitutionService(service.SubstitutionServiceDeps{
		Tx:          tx,
		Lectures:    lectureRepo,
		Teachers:    teacherRepo,
		Assignments: assignmentRepo,
		Matcher:     matcher,
		Notifier:    notifications,
		Clock:       clk,
		Location:    cfg.Substitution.Location(),
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr.Named("substitution"),
	})

	lectures := service.NewLectureService(service.LectureServiceDeps{
		Tx:          tx,
		Lectures:    lectureRepo,
		Teachers:    teacherRepo,
		Assignments: assignmentRepo,
		Conflicts:   service.NewConflictDetector(lectureRepo),
		Notifier:    notifications,
		Clock:       clk,
		Validator:   validate,
		Logger:      logr.Named("lecture"),
	})

	schedulerDeps := service.EscalationSchedulerDeps{
		Leaves:         leaves,
		Assignments:    substitutions,
		StaleLeaves:    leaveRepo,
		DueAssignments: assignmentRepo,
		Clock:          clk,
		Metrics:        metrics,
		Logger:         logr.Named("escalation"),
	}
	if redisClient != nil {
		schedulerDeps.Lease = repository.NewLeaseRepository(redisClient)
	}
	scheduler := service.NewEscalationScheduler(schedulerDeps, service.EscalationConfig{
		Schedule:              cfg.Substitution.EscalationSchedule,
		LeaveAutoApproveAfter: cfg.Substitution.LeaveAutoApproveAfter,
		LeaseTTL:              cfg.Substitution.TickLeaseTTL,
	})
	if cfg.Substitution.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logr.Fatal("failed to start escalation scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
	}

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	leaveHandler := handler.NewLeaveHandler(leaves)
	substitutionHandler := handler.NewSubstitutionHandler(substitutions)
	lectureHandler := handler.NewLectureHandler(lectures)
	notificationHandler := handler.NewNotificationHandler(notifications)
	escalationHandler := handler.NewEscalationHandler(scheduler)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if metrics != nil {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	managers := middleware.RequireRoles(models.RoleHOD, models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(auth))
	{
		leave := api.Group("/leave-requests")
		leave.POST("", leaveHandler.Submit)
		leave.GET("", leaveHandler.List)
		leave.GET("/:id", leaveHandler.Get)
		leave.POST("/:id/review", managers, leaveHandler.Review)
		leave.GET("/:id/assignments", leaveHandler.Assignments)

		subs := api.Group("/substitutions")
		subs.POST("/absent", substitutionHandler.MarkAbsent)
		subs.GET("/pending", managers, substitutionHandler.Pending)

		lecture := api.Group("/lectures")
		lecture.GET("", lectureHandler.List)
		lecture.GET("/:id", lectureHandler.Get)
		lecture.POST("", managers, lectureHandler.Create)
		lecture.PUT("/:id", managers, lectureHandler.Reschedule)
		lecture.POST("/:id/cancel", managers, lectureHandler.Cancel)
		lecture.POST("/:id/substitute", managers, substitutionHandler.Assign)
		lecture.GET("/:id/candidates", managers, substitutionHandler.Candidates)

		inbox := api.Group("/notifications")
		inbox.GET("", notificationHandler.List)
		inbox.POST("/:id/read", notificationHandler.MarkRead)

		api.POST("/escalations/run", middleware.RequireRoles(models.RoleAdmin), escalationHandler.Run)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
