package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/internal/repository"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
	"github.com/noah-isme/seatwatch/pkg/logger"
)

type monitorStore interface {
	ListDue(ctx context.Context, ttl time.Duration, limit int) ([]models.ActiveSubscription, error)
	CreateRun(ctx context.Context, params repository.CreateRunParams, defaultSubscriptionID int64) (*models.Run, error)
	PruneRuns(ctx context.Context, retention time.Duration) (int64, error)
}

type alertSender interface {
	SendNotification(ctx context.Context, sub models.Subscription, avail models.Availability) (*models.DeliveryReceipt, error)
}

// MonitorConfig tunes the check cycle.
type MonitorConfig struct {
	Interval         time.Duration
	TTL              time.Duration
	DueLimit         int
	FetchConcurrency int
	SkipOverlapping  bool
	RunRetention     time.Duration
}

// MonitorService runs check cycles on a recurring schedule. Each cycle
// fetches every due course group once and records one run per subscription.
type MonitorService struct {
	store    monitorStore
	source   CourseSource
	notifier alertSender
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      MonitorConfig
	now      func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	cycleCtx context.Context
	interval time.Duration

	inFlight atomic.Bool

	lastMu sync.RWMutex
	last   *models.CycleSummary
}

// NewMonitorService constructs a stopped monitor.
func NewMonitorService(store monitorStore, source CourseSource, notifier alertSender, metrics *MetricsService, cfg MonitorConfig, logger *zap.Logger) *MonitorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &MonitorService{
		store:    store,
		source:   source,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		interval: cfg.Interval,
	}
}

// Start schedules cycles every interval, replacing any existing schedule.
// Cycles run with ctx; the first one fires one interval from now.
func (s *MonitorService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cycleCtx = ctx
	s.cron = s.schedule(ctx, s.interval)
	s.logger.Info("monitor started", zap.Duration("interval", s.interval))
}

// Stop cancels the schedule and waits for an in-flight tick to return. It
// is a no-op when the monitor is not running.
func (s *MonitorService) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("monitor stopped")
}

// Running reports whether a schedule is active.
func (s *MonitorService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Interval returns the current period between cycles.
func (s *MonitorService) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the period. A running monitor is rescheduled with the
// new period without forcing an immediate cycle.
func (s *MonitorService) SetInterval(d time.Duration) error {
	if d < time.Second {
		return appErrors.Clone(appErrors.ErrValidation, "interval must be at least 1s")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	if s.cron == nil {
		return nil
	}
	s.cron.Stop()
	s.cron = s.schedule(s.cycleCtx, d)
	s.logger.Info("monitor interval changed", zap.Duration("interval", d))
	return nil
}

func (s *MonitorService) schedule(ctx context.Context, every time.Duration) *cron.Cron {
	cronLogger := logger.NewCronLogger(s.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger)))
	c.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.RunCycle(ctx)
	}))
	c.Start()
	return c
}

// LastCycle returns the summary of the most recent finished cycle.
func (s *MonitorService) LastCycle() *models.CycleSummary {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	copied := *s.last
	return &copied
}

// RunCycle performs one check cycle and returns its summary. Failures are
// folded into the summary counts. With SkipOverlapping set, a call made
// while another cycle runs returns at once with Skipped set.
func (s *MonitorService) RunCycle(ctx context.Context) models.CycleSummary {
	if s.cfg.SkipOverlapping {
		if !s.inFlight.CompareAndSwap(false, true) {
			now := s.now().UTC()
			summary := models.CycleSummary{StartedAt: now, FinishedAt: now, Skipped: true}
			s.metrics.ObserveCycle(summary)
			s.logger.Warn("check cycle skipped, previous cycle still running")
			return summary
		}
		defer s.inFlight.Store(false)
	}

	summary := s.runCycle(ctx)

	s.lastMu.Lock()
	s.last = &summary
	s.lastMu.Unlock()
	s.metrics.ObserveCycle(summary)
	s.logger.Info("check cycle finished",
		zap.Int("subscriptions", summary.Due),
		zap.Int("notifications", summary.Notified),
		zap.Int("groups", summary.Groups),
		zap.Int("recorded", summary.Checked),
		zap.Int("fetch_failures", summary.FetchFailures),
		zap.Int("evaluation_failures", summary.EvaluationFailures),
		zap.Int("delivery_failures", summary.DeliveryFailures),
		zap.Int("persist_failures", summary.PersistFailures),
		zap.Int64("pruned", summary.Pruned),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

type cycleTally struct {
	// runs evaluated against rows edited after this keep the old pointer
	startedAt time.Time

	checked            atomic.Int64
	notified           atomic.Int64
	fetchFailures      atomic.Int64
	evaluationFailures atomic.Int64
	deliveryFailures   atomic.Int64
	persistFailures    atomic.Int64
}

type courseBatch struct {
	group models.CourseGroup
	subs  []models.ActiveSubscription
}

func (s *MonitorService) runCycle(ctx context.Context) models.CycleSummary {
	summary := models.CycleSummary{StartedAt: s.now().UTC()}

	listStart := time.Now()
	due, err := s.store.ListDue(ctx, s.cfg.TTL, s.cfg.DueLimit)
	s.metrics.ObserveDBQuery("list_due", time.Since(listStart))
	if err != nil {
		s.logger.Error("list due subscriptions failed", zap.Error(err))
		summary.Error = err.Error()
	}

	batches := groupByCourse(due)
	summary.Due = len(due)
	summary.Groups = len(batches)

	tally := cycleTally{startedAt: summary.StartedAt}
	var g errgroup.Group
	if s.cfg.FetchConcurrency > 0 {
		g.SetLimit(s.cfg.FetchConcurrency)
	}
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			defer s.recoverUnit("group", batch.group.String())
			s.processGroup(ctx, batch, &tally)
			return nil
		})
	}
	_ = g.Wait()

	pruned, err := s.store.PruneRuns(ctx, s.cfg.RunRetention)
	if err != nil {
		s.logger.Warn("run retention prune failed", zap.Error(err))
	}

	summary.Checked = int(tally.checked.Load())
	summary.Notified = int(tally.notified.Load())
	summary.FetchFailures = int(tally.fetchFailures.Load())
	summary.EvaluationFailures = int(tally.evaluationFailures.Load())
	summary.DeliveryFailures = int(tally.deliveryFailures.Load())
	summary.PersistFailures = int(tally.persistFailures.Load())
	summary.Pruned = pruned
	summary.FinishedAt = s.now().UTC()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	return summary
}

func groupByCourse(due []models.ActiveSubscription) []courseBatch {
	index := make(map[models.CourseGroup]int)
	var batches []courseBatch
	for _, active := range due {
		key := active.Subscription.Group()
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, courseBatch{group: key})
		}
		batches[i].subs = append(batches[i].subs, active)
	}
	return batches
}

func (s *MonitorService) processGroup(ctx context.Context, batch courseBatch, tally *cycleTally) {
	data, err := s.source.FetchCourse(ctx, batch.group)
	if err != nil {
		tally.fetchFailures.Add(1)
		s.logger.Warn("course fetch failed",
			zap.String("group", batch.group.String()),
			zap.Int("subscriptions", len(batch.subs)),
			zap.Error(err),
		)
		return
	}
	snapshot := encodeSnapshot(data)

	var g errgroup.Group
	for _, active := range batch.subs {
		active := active
		g.Go(func() error {
			defer s.recoverUnit("subscription", fmt.Sprint(active.Subscription.ID))
			s.processSubscription(ctx, active, data, snapshot, tally)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *MonitorService) processSubscription(ctx context.Context, active models.ActiveSubscription, data *models.CourseData, snapshot *string, tally *cycleTally) {
	sub := active.Subscription
	previouslySent := active.PreviouslyNotified()

	avail, err := Evaluate(sub, data)
	if err != nil {
		tally.evaluationFailures.Add(1)
		s.logger.Warn("subscription evaluation failed", zap.Int64("subscription_id", sub.ID), zap.Error(err))
		// Unknown availability keeps the previous edge state.
		s.recordRun(ctx, sub.ID, previouslySent, err, snapshot, tally)
		return
	}

	decision := Decide(previouslySent, avail.Available)
	sent := decision.Sent
	var dispatchErr error
	if decision.Dispatch {
		if _, err := s.notifier.SendNotification(ctx, sub, avail); err != nil {
			tally.deliveryFailures.Add(1)
			s.logger.Warn("seat alert dispatch failed",
				zap.Int64("subscription_id", sub.ID),
				zap.String("access_key", sub.AccessKey),
				zap.Error(err),
			)
			sent = false
			dispatchErr = err
		} else {
			tally.notified.Add(1)
		}
	}
	s.recordRun(ctx, sub.ID, sent, dispatchErr, snapshot, tally)
}

func (s *MonitorService) recordRun(ctx context.Context, subscriptionID int64, sent bool, cause error, snapshot *string, tally *cycleTally) {
	params := repository.CreateRunParams{
		NotificationSent: &sent,
		Snapshot:         snapshot,
		EvaluatedAt:      tally.startedAt,
	}
	if cause != nil {
		msg := cause.Error()
		params.Error = &msg
	}

	start := time.Now()
	_, err := s.store.CreateRun(ctx, params, subscriptionID)
	s.metrics.ObserveDBQuery("create_run", time.Since(start))
	if err != nil {
		tally.persistFailures.Add(1)
		s.logger.Error("record run failed", zap.Int64("subscription_id", subscriptionID), zap.Error(err))
		return
	}
	tally.checked.Add(1)
}

func (s *MonitorService) recoverUnit(unit, id string) {
	if r := recover(); r != nil {
		s.logger.Error("check cycle unit panicked",
			zap.String("unit", unit),
			zap.String("id", id),
			zap.Any("panic", r),
		)
	}
}

func encodeSnapshot(data *models.CourseData) *string {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	snapshot := string(raw)
	return &snapshot
}
