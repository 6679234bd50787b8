package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-hq/meridian/internal/app"
	"github.com/meridian-hq/meridian/internal/auth"
	"github.com/meridian-hq/meridian/internal/authz"
	"github.com/meridian-hq/meridian/internal/hr"
	"github.com/meridian-hq/meridian/internal/notifications"
	"github.com/meridian-hq/meridian/internal/observability"
	platformcache "github.com/meridian-hq/meridian/internal/platform/cache"
	"github.com/meridian-hq/meridian/internal/platform/db"
	"github.com/meridian-hq/meridian/internal/projects"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/rbac/cache"
	"github.com/meridian-hq/meridian/internal/shared"
	"github.com/meridian-hq/meridian/internal/tasks"
	"github.com/meridian-hq/meridian/internal/users"
	"github.com/meridian-hq/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authzCache := cache.New(redisClient, logger)
	go authzCache.Run(ctx)

	enqueuer := jobs.NewEnqueuer(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("enqueuer close", slog.Any("error", err))
		}
	}()

	rbacRepo := rbac.NewRepository(dbpool)
	roleService := rbac.NewService(rbacRepo, authzCache, enqueuer, logger)

	evaluator := authz.NewEvaluator(roleService, logger)
	go evaluator.Run(ctx)

	guard := authz.Middleware{Evaluator: evaluator, Logger: logger}
	adminGuard := guard.Require(rbac.PermManageRoles)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, roleService)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	rbacHandler := rbac.NewHandler(logger, roleService, adminGuard)
	authzHandler := authz.NewHandler(logger, evaluator, authzCache, adminGuard)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, roleService)
	usersHandler := users.NewHandler(logger, usersService, guard.Require(rbac.PermManageUsers))

	tasksRepo := tasks.NewRepository(dbpool)
	tasksService := tasks.NewService(tasksRepo, evaluator)
	tasksHandler := tasks.NewHandler(logger, tasksService)

	projectsRepo := projects.NewRepository(dbpool)
	projectsService := projects.NewService(projectsRepo, evaluator)
	projectsHandler := projects.NewHandler(logger, projectsService)

	hrRepo := hr.NewRepository(dbpool)
	hrService := hr.NewService(hrRepo, evaluator)
	hrHandler := hr.NewHandler(logger, hrService)

	notificationsRepo := notifications.NewRepository(dbpool)
	notificationsService := notifications.NewService(notificationsRepo)
	notificationsHandler := notifications.NewHandler(logger, notificationsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()
	metrics.RegisterGauge("meridian_authz_cache_entries",
		"Current entries in the in-process permission cache.",
		func() float64 { return float64(authzCache.Stats().TotalEntries) })
	metrics.RegisterGauge("meridian_authz_cache_expired_entries",
		"Expired entries awaiting cleanup in the permission cache.",
		func() float64 { return float64(authzCache.Stats().ExpiredEntries) })
	metrics.RegisterGauge("meridian_authz_evaluation_cache_size",
		"Current entries in the evaluation result cache.",
		func() float64 { return float64(evaluator.Stats().EvaluationCacheSize) })
	metrics.RegisterGauge("meridian_authz_custom_rules",
		"Registered custom authorization rules.",
		func() float64 { return float64(evaluator.Stats().CustomRuleCount) })

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,

		AuthHandler:          authHandler,
		UsersHandler:         usersHandler,
		RBACHandler:          rbacHandler,
		AuthzHandler:         authzHandler,
		TasksHandler:         tasksHandler,
		ProjectsHandler:      projectsHandler,
		HRHandler:            hrHandler,
		NotificationsHandler: notificationsHandler,
		JobHandler:           jobHandler,

		RoleService: roleService,
		Projects:    projectsRepo,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
