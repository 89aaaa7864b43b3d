package logger

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/seatwatch/pkg/config"
	"github.com/noah-isme/seatwatch/pkg/middleware/requestid"
)

// New builds the process logger. Production uses the JSON production preset,
// everything else the development preset. Every entry carries the service
// name and environment.
func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "console":
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "", "json":
		zapCfg.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}

	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{
		"service": "seatwatch",
		"env":     string(cfg.Env),
	}

	return zapCfg.Build()
}

// GinMiddleware logs one entry per request, keyed by route template. Server
// errors log at error level and client errors at warn. Probe endpoints only
// show up at debug level.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	if l == nil {
		l = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("ops request", fields...)
		case status >= 400:
			l.Warn("ops request", fields...)
		case isProbe(route):
			l.Debug("ops request", fields...)
		default:
			l.Info("ops request", fields...)
		}
	}
}

func isProbe(route string) bool {
	switch route {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}

// CronLogger adapts zap onto the logger interface robfig/cron expects.
type CronLogger struct {
	l *zap.SugaredLogger
}

// NewCronLogger wraps l for use as a cron.Logger.
func NewCronLogger(l *zap.Logger) CronLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return CronLogger{l: l.Named("cron").Sugar()}
}

// Info logs routine scheduler events at debug level; cron is chatty.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

// Error logs scheduler failures, including recovered panics.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
