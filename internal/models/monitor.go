package models

import "time"

// CycleSummary reports the outcome of one check cycle.
type CycleSummary struct {
	StartedAt          time.Time     `json:"startedAt"`
	FinishedAt         time.Time     `json:"finishedAt"`
	Duration           time.Duration `json:"duration"`
	Skipped            bool          `json:"skipped,omitempty"`
	Due                int           `json:"due"`
	Groups             int           `json:"groups"`
	Checked            int           `json:"checked"`
	Notified           int           `json:"notified"`
	FetchFailures      int           `json:"fetchFailures"`
	EvaluationFailures int           `json:"evaluationFailures"`
	DeliveryFailures   int           `json:"deliveryFailures"`
	PersistFailures    int           `json:"persistFailures"`
	Pruned             int64         `json:"pruned"`
	Error              string        `json:"error,omitempty"`
}

// MonitorMetrics aggregates counters for the ops status endpoint.
type MonitorMetrics struct {
	Cycles                   uint64    `json:"cycles"`
	SubscriptionsChecked     uint64    `json:"subscriptionsChecked"`
	NotificationsSent        uint64    `json:"notificationsSent"`
	FetchFailures            uint64    `json:"fetchFailures"`
	EvaluationFailures       uint64    `json:"evaluationFailures"`
	DeliveryFailures         uint64    `json:"deliveryFailures"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
