package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/repository"
	"github.com/noah-isme/seatwatch/internal/service"
	"github.com/noah-isme/seatwatch/pkg/cache"
	"github.com/noah-isme/seatwatch/pkg/config"
	"github.com/noah-isme/seatwatch/pkg/courseapi"
	"github.com/noah-isme/seatwatch/pkg/database"
	"github.com/noah-isme/seatwatch/pkg/jobs"
	"github.com/noah-isme/seatwatch/pkg/sms"
)

const cacheNamespace = "seatwatch"

// app is the wired object graph shared by serve, check and the operator
// commands.
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	db            *sqlx.DB
	redis         *redis.Client
	metrics       *service.MetricsService
	store         *repository.SubscriptionRepository
	courses       *service.CachedCourseSource
	notifier      *service.NotifierService
	outbox        *service.VerificationOutbox
	subscriptions *service.SubscriptionService
	monitor       *service.MonitorService
	tokens        *service.TokenService
}

func newApp(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cacheNamespace, logr)
	} else {
		cacheRepo = repository.NewMemoryCacheRepository(cache.NewMemory(cfg.CourseAPI.CacheTTL))
	}
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.CourseAPI.CacheTTL, logr)

	store := repository.NewSubscriptionRepository(db)
	courses := service.NewCachedCourseSource(
		courseapi.New(cfg.CourseAPI, &http.Client{Timeout: cfg.CourseAPI.Timeout}, logr),
		cacheService,
		logr,
	)
	notifier := service.NewNotifierService(
		sms.New(cfg.SMS, &http.Client{Timeout: cfg.SMS.Timeout}, logr),
		service.NewMessageFormatter(service.DefaultTemplates),
		service.NotifierConfig{ManageURL: cfg.Messages.ManageURL, RatePerSec: cfg.SMS.RatePerSec},
		metrics,
		logr,
	)
	outbox := service.NewVerificationOutbox(notifier, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: cfg.SMS.RetryAttempts,
		RetryDelay: cfg.SMS.RetryDelay,
		Logger:     logr,
	})
	outbox.Start(ctx)

	monitor := service.NewMonitorService(store, courses, notifier, metrics, service.MonitorConfig{
		Interval:         cfg.Monitor.Interval,
		TTL:              cfg.Monitor.TTL,
		DueLimit:         cfg.Monitor.DueLimit,
		FetchConcurrency: cfg.Monitor.FetchConcurrency,
		SkipOverlapping:  cfg.Monitor.SkipOverlapping,
		RunRetention:     cfg.Monitor.RunRetention,
	}, logr)

	return &app{
		cfg:           cfg,
		logger:        logr,
		db:            db,
		redis:         redisClient,
		metrics:       metrics,
		store:         store,
		courses:       courses,
		notifier:      notifier,
		outbox:        outbox,
		subscriptions: service.NewSubscriptionService(store, outbox, validator.New(), logr),
		monitor:       monitor,
		tokens:        newTokenService(cfg),
	}, nil
}

func newTokenService(cfg *config.Config) *service.TokenService {
	return service.NewTokenService(service.TokenConfig{
		Secret: cfg.Ops.JWTSecret,
		Issuer: cfg.Ops.Issuer,
		TTL:    cfg.Ops.TokenTTL,
	})
}

func (a *app) Close() {
	a.monitor.Stop()
	a.outbox.Stop()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
}
