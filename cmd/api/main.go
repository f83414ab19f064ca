package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/fairlink/internal/classifier"
	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/SergeiKhy/fairlink/internal/handler"
	"github.com/SergeiKhy/fairlink/internal/logger"
	"github.com/SergeiKhy/fairlink/internal/middleware"
	"github.com/SergeiKhy/fairlink/internal/repository"
	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	if !cfg.App.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Миграции до открытия пула
	if cfg.DB.AutoMigrate {
		if err := repository.Migrate(cfg.DB.URL(), zlog); err != nil {
			zlog.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	zlog.Info("Connected to PostgreSQL")

	// Подключение к Redis
	redis, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		zlog.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	stopMonitor := redis.StartHealthMonitor(cfg.Redis.HealthInterval, zlog)
	defer stopMonitor()
	zlog.Info("Connected to Redis")

	// Гео-база необязательна: без неё все страны UNKNOWN
	var geo classifier.GeoLookup
	if cfg.Geo.DBPath != "" {
		mm, err := classifier.OpenMaxMind(cfg.Geo.DBPath)
		if err != nil {
			zlog.Warn("Geo database unavailable, countries will be UNKNOWN", zap.Error(err))
		} else {
			defer mm.Close()
			geo = mm
		}
	}
	cls := classifier.New(geo, cfg.Geo.RestrictedCountries, cfg.Classifier.ExtraBotSignatures, zlog)
	zlog.Info("Classifier ready",
		zap.Bool("geo", geo != nil),
		zap.Strings("restricted_countries", cfg.Geo.RestrictedCountries),
	)

	// Инициализация репозиториев
	linkRepo := repository.NewLinkRepository(db)
	clickRepo := repository.NewClickRepository(db)
	cacheRepo := repository.NewCacheRepository(redis)
	balanceRepo := repository.NewBalanceRepository(redis)

	// Инициализация сервисов
	selector := service.NewFairSelector(balanceRepo, cfg.Redirect, zlog)
	resolver := service.NewResolver(linkRepo, cacheRepo, selector, cls, cfg, zlog)
	linkService := service.NewLinkService(linkRepo, cacheRepo, balanceRepo, cfg, zlog)

	// Запись переходов (Worker Pool)
	recorder := service.NewVisitRecorder(clickRepo, cacheRepo, cfg.Recorder, zlog)
	recorder.Start()

	// Инициализация middleware
	apiLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Scope:             "api",
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
	}, middleware.ByClientIP)
	defer apiLimiter.Stop()

	writeLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Scope:             "writes",
		RequestsPerSecond: cfg.RateLimit.WriteRequestsPerSecond,
		BurstSize:         cfg.RateLimit.WriteBurstSize,
	}, middleware.ByOwner)
	defer writeLimiter.Stop()

	// Настройка роутера
	router := handler.NewRouter(handler.Handlers{
		Links:    handler.NewLinkHandler(linkService, recorder, zlog),
		Redirect: handler.NewRedirectHandler(resolver, recorder, zlog),
		Health:   handler.NewHealthHandler(db, redis, recorder),
	}, handler.Limiters{API: apiLimiter, Writes: writeLimiter}, zlog)

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		zlog.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}

	// Новых переходов больше не будет: дописываем очередь и кэш
	recorder.Stop()
	resolver.Wait()
	linkService.Wait()

	zlog.Info("Server exited")
}
