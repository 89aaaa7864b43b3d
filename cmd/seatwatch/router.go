package main

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/handler"
	"github.com/noah-isme/seatwatch/internal/middleware"
	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/internal/service"
	"github.com/noah-isme/seatwatch/pkg/logger"
	"github.com/noah-isme/seatwatch/pkg/middleware/cors"
	"github.com/noah-isme/seatwatch/pkg/middleware/requestid"
)

type routerDeps struct {
	baseCtx       context.Context
	prefix        string
	origins       []string
	logger        *zap.Logger
	metrics       *service.MetricsService
	db            interface{ PingContext(context.Context) error }
	tokens        *service.TokenService
	monitor       *service.MonitorService
	subscriptions *service.SubscriptionService
	courses       *service.CachedCourseSource
}

func newRouter(deps routerDeps) *gin.Engine {
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(deps.logger))
	r.Use(middleware.Metrics(deps.metrics))
	r.Use(cors.New(deps.origins))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	prefix := "/" + strings.Trim(deps.prefix, "/")
	ops := r.Group(strings.TrimRight(prefix, "/")+"/ops", middleware.JWT(deps.tokens))
	operatorOnly := middleware.RequireRoles(models.RoleOperator)

	monitorHandler := handler.NewMonitorHandler(deps.baseCtx, deps.monitor, deps.metrics, deps.logger)
	ops.GET("/monitor", monitorHandler.Status)
	ops.POST("/monitor/start", operatorOnly, monitorHandler.Start)
	ops.POST("/monitor/stop", operatorOnly, monitorHandler.Stop)
	ops.POST("/monitor/run", operatorOnly, monitorHandler.Run)
	ops.PUT("/monitor/interval", operatorOnly, monitorHandler.UpdateInterval)

	subscriptionHandler := handler.NewSubscriptionHandler(deps.subscriptions)
	ops.POST("/subscriptions", operatorOnly, subscriptionHandler.Create)
	ops.GET("/subscriptions/:ref", subscriptionHandler.Get)
	ops.PATCH("/subscriptions/:ref", operatorOnly, subscriptionHandler.Update)
	ops.GET("/subscriptions/:ref/runs", subscriptionHandler.Runs)
	ops.POST("/subscriptions/:ref/verification", operatorOnly, subscriptionHandler.ResendVerification)
	ops.POST("/verifications", operatorOnly, subscriptionHandler.Verify)

	cacheHandler := handler.NewCacheHandler(deps.courses, deps.logger)
	ops.DELETE("/cache/courses/:institution", operatorOnly, cacheHandler.InvalidateCourses)

	return r
}
