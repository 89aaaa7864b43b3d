package dto

import "github.com/noah-isme/seatwatch/internal/models"

// MonitorStatus is returned by the ops status endpoint.
type MonitorStatus struct {
	Running         bool                  `json:"running"`
	Interval        string                `json:"interval"`
	IntervalSeconds float64               `json:"intervalSeconds"`
	LastCycle       *models.CycleSummary  `json:"lastCycle,omitempty"`
	Metrics         models.MonitorMetrics `json:"metrics"`
}

// UpdateIntervalRequest changes the cycle period, e.g. "90s" or "5m".
type UpdateIntervalRequest struct {
	Interval string `json:"interval" validate:"required"`
}
