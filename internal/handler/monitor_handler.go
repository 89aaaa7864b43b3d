package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/seatwatch/internal/dto"
	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
	"github.com/noah-isme/seatwatch/pkg/response"
)

type monitorController interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	Interval() time.Duration
	SetInterval(d time.Duration) error
	LastCycle() *models.CycleSummary
	RunCycle(ctx context.Context) models.CycleSummary
}

type metricsSnapshotter interface {
	Snapshot() models.MonitorMetrics
}

// MonitorHandler exposes the worker control surface.
type MonitorHandler struct {
	monitor monitorController
	metrics metricsSnapshotter
	// scheduled cycles outlive the request that starts them
	baseCtx context.Context
	logger  *zap.Logger
}

// NewMonitorHandler constructs a monitor handler. Scheduled cycles started
// over HTTP run with baseCtx.
func NewMonitorHandler(baseCtx context.Context, monitor monitorController, metrics metricsSnapshotter, logger *zap.Logger) *MonitorHandler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorHandler{monitor: monitor, metrics: metrics, baseCtx: baseCtx, logger: logger}
}

// Status godoc
// @Summary Monitor status
// @Tags Monitor
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ops/monitor [get]
func (h *MonitorHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.status())
}

// Start godoc
// @Summary Start the check schedule
// @Tags Monitor
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ops/monitor/start [post]
func (h *MonitorHandler) Start(c *gin.Context) {
	h.monitor.Start(h.baseCtx)
	h.logger.Info("monitor start requested", zap.String("operator", operatorName(c)))
	response.JSON(c, http.StatusOK, h.status())
}

// Stop godoc
// @Summary Stop the check schedule
// @Tags Monitor
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ops/monitor/stop [post]
func (h *MonitorHandler) Stop(c *gin.Context) {
	h.monitor.Stop()
	h.logger.Info("monitor stop requested", zap.String("operator", operatorName(c)))
	response.JSON(c, http.StatusOK, h.status())
}

// Run godoc
// @Summary Run one check cycle now
// @Tags Monitor
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /ops/monitor/run [post]
func (h *MonitorHandler) Run(c *gin.Context) {
	summary := h.monitor.RunCycle(c.Request.Context())
	if summary.Skipped {
		response.Error(c, appErrors.ErrCycleInFlight)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}

// UpdateInterval godoc
// @Summary Change the check interval
// @Tags Monitor
// @Accept json
// @Produce json
// @Param payload body dto.UpdateIntervalRequest true "Interval payload"
// @Success 200 {object} response.Envelope
// @Router /ops/monitor/interval [put]
func (h *MonitorHandler) UpdateInterval(c *gin.Context) {
	var req dto.UpdateIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid interval payload"))
		return
	}
	interval, err := time.ParseDuration(strings.TrimSpace(req.Interval))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "interval must be a duration such as 90s or 5m"))
		return
	}
	if err := h.monitor.SetInterval(interval); err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("monitor interval updated", zap.String("operator", operatorName(c)), zap.Duration("interval", interval))
	response.JSON(c, http.StatusOK, h.status())
}

func (h *MonitorHandler) status() dto.MonitorStatus {
	interval := h.monitor.Interval()
	status := dto.MonitorStatus{
		Running:         h.monitor.Running(),
		Interval:        interval.String(),
		IntervalSeconds: interval.Seconds(),
		LastCycle:       h.monitor.LastCycle(),
	}
	if h.metrics != nil {
		status.Metrics = h.metrics.Snapshot()
	}
	return status
}
