package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/noah-isme/unireg-api/api/swagger"
	"github.com/noah-isme/unireg-api/internal/handler"
	"github.com/noah-isme/unireg-api/internal/repository"
	"github.com/noah-isme/unireg-api/internal/router"
	"github.com/noah-isme/unireg-api/internal/service"
	"github.com/noah-isme/unireg-api/pkg/cache"
	"github.com/noah-isme/unireg-api/pkg/config"
	"github.com/noah-isme/unireg-api/pkg/database"
	"github.com/noah-isme/unireg-api/pkg/logger"
)

// @title University Registration API
// @version 1.0.0
// @description Course registration service with consistency-guarded enrollment
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, true)
		}
	}

	studentRepo := repository.NewStudentRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)

	reconciler := service.NewReconciler(enrollmentRepo, metrics, cfg.Reconcile, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	reconciler.Start(ctx)
	defer reconciler.Stop()

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, instructorRepo, reconciler, cacheSvc, metrics, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, studentRepo, cacheSvc, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, enrollmentRepo, reconciler, validate, logr)
	instructorSvc := service.NewInstructorService(instructorRepo, courseRepo, validate, logr)
	departmentSvc := service.NewDepartmentService(departmentRepo, logr)

	handlers := &router.Handlers{
		Students:    handler.NewStudentHandler(studentSvc),
		Instructors: handler.NewInstructorHandler(instructorSvc),
		Courses:     handler.NewCourseHandler(courseSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Departments: handler.NewDepartmentHandler(departmentSvc),
		Metrics:     handler.NewMetricsHandler(metrics),
	}

	engine := router.Setup(cfg, logr, metrics, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
