package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/internal/repository"
)

type memoryMonitorStore struct {
	mu         sync.Mutex
	subs       []models.Subscription
	runs       []models.Run
	lastRun    map[int64]*models.Run
	listErr    error
	runErr     map[int64]error
	pruneErr   error
	pruneCalls int
	evaluated  map[int64]time.Time
}

func newMemoryMonitorStore(subs ...models.Subscription) *memoryMonitorStore {
	return &memoryMonitorStore{
		subs:      subs,
		lastRun:   map[int64]*models.Run{},
		runErr:    map[int64]error{},
		evaluated: map[int64]time.Time{},
	}
}

func (m *memoryMonitorStore) ListDue(ctx context.Context, ttl time.Duration, limit int) ([]models.ActiveSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var due []models.ActiveSubscription
	for _, sub := range m.subs {
		if !sub.Enabled || !sub.Verified {
			continue
		}
		due = append(due, models.ActiveSubscription{Subscription: sub, LastRun: m.lastRun[sub.ID]})
	}
	return due, nil
}

func (m *memoryMonitorStore) CreateRun(ctx context.Context, params repository.CreateRunParams, defaultSubscriptionID int64) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.runErr[defaultSubscriptionID]; err != nil {
		return nil, err
	}
	run := models.Run{
		ID:               int64(len(m.runs) + 1),
		SubscriptionID:   defaultSubscriptionID,
		Error:            params.Error,
		Snapshot:         params.Snapshot,
		NotificationSent: *params.NotificationSent,
		CreatedAt:        time.Now(),
	}
	m.runs = append(m.runs, run)
	m.lastRun[run.SubscriptionID] = &run
	m.evaluated[run.SubscriptionID] = params.EvaluatedAt
	return &run, nil
}

func (m *memoryMonitorStore) PruneRuns(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCalls++
	return 0, m.pruneErr
}

func (m *memoryMonitorStore) runsFor(id int64) []models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Run
	for _, run := range m.runs {
		if run.SubscriptionID == id {
			out = append(out, run)
		}
	}
	return out
}

type stubCourseSource struct {
	mu      sync.Mutex
	data    map[models.CourseGroup]*models.CourseData
	errs    map[models.CourseGroup]error
	calls   map[models.CourseGroup]int
	entered chan struct{}
	release chan struct{}
}

func newStubCourseSource() *stubCourseSource {
	return &stubCourseSource{
		data:  map[models.CourseGroup]*models.CourseData{},
		errs:  map[models.CourseGroup]error{},
		calls: map[models.CourseGroup]int{},
	}
}

func (s *stubCourseSource) set(group models.CourseGroup, data *models.CourseData) {
	s.mu.Lock()
	s.data[group] = data
	s.mu.Unlock()
}

func (s *stubCourseSource) FetchCourse(ctx context.Context, group models.CourseGroup) (*models.CourseData, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[group]++
	if err := s.errs[group]; err != nil {
		return nil, err
	}
	return s.data[group], nil
}

type stubAlertSender struct {
	mu   sync.Mutex
	sent []int64
	err  error
}

func (s *stubAlertSender) SendNotification(ctx context.Context, sub models.Subscription, avail models.Availability) (*models.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, sub.ID)
	return &models.DeliveryReceipt{ID: "SM1", Channel: models.ContactPhone}, nil
}

func (s *stubAlertSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func watchedSub(id int64, course, section string) models.Subscription {
	sub := models.Subscription{
		ID:             id,
		AccessKey:      "key" + course,
		InstitutionKey: "uni",
		CourseKey:      course,
		TermKey:        "2024FA",
		Contact:        "+15551234567",
		Enabled:        true,
		Verified:       true,
	}
	if section != "" {
		sub.SectionKey = &section
	}
	return sub
}

func courseWithSection(id string, available, capacity int) *models.CourseData {
	return &models.CourseData{Sections: []models.Section{{ID: id, Available: available, Capacity: capacity}}}
}

func newTestMonitor(store monitorStore, source CourseSource, sender alertSender) *MonitorService {
	return NewMonitorService(store, source, sender, NewMetricsService(), MonitorConfig{
		Interval:        time.Minute,
		TTL:             5 * time.Minute,
		DueLimit:        -1,
		SkipOverlapping: true,
		RunRetention:    time.Hour,
	}, nil)
}

func TestMonitorEdgeTriggeredSequence(t *testing.T) {
	sub := watchedSub(1, "CS101", "0101")
	store := newMemoryMonitorStore(sub)
	source := newStubCourseSource()
	sender := &stubAlertSender{}
	monitor := newTestMonitor(store, source, sender)
	ctx := context.Background()

	steps := []struct {
		available    int
		wantSent     bool
		wantDispatch int
	}{
		{available: 0, wantSent: false, wantDispatch: 0},
		{available: 5, wantSent: true, wantDispatch: 1},
		{available: 5, wantSent: true, wantDispatch: 1},
		{available: 0, wantSent: false, wantDispatch: 1},
		{available: 3, wantSent: true, wantDispatch: 2},
	}
	for i, step := range steps {
		source.set(sub.Group(), courseWithSection("0101", step.available, 30))
		summary := monitor.RunCycle(ctx)
		assert.Equal(t, 1, summary.Checked, "step %d", i)

		runs := store.runsFor(sub.ID)
		require.Len(t, runs, i+1)
		assert.Equal(t, step.wantSent, runs[i].NotificationSent, "step %d", i)
		assert.Equal(t, step.wantDispatch, sender.count(), "step %d", i)
		require.NotNil(t, runs[i].Snapshot)
	}
}

func TestMonitorStampsRunsWithCycleStart(t *testing.T) {
	sub := watchedSub(1, "CS101", "0101")
	store := newMemoryMonitorStore(sub)
	source := newStubCourseSource()
	source.set(sub.Group(), courseWithSection("0101", 2, 30))
	monitor := newTestMonitor(store, source, &stubAlertSender{})

	summary := monitor.RunCycle(context.Background())
	require.Equal(t, 1, summary.Checked)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, summary.StartedAt, store.evaluated[sub.ID])
}

func TestMonitorGroupFetchFailureIsIsolated(t *testing.T) {
	failing := watchedSub(1, "FAIL", "")
	okA := watchedSub(2, "OK", "")
	okB := watchedSub(3, "OK", "")
	store := newMemoryMonitorStore(failing, okA, okB)
	source := newStubCourseSource()
	source.errs[failing.Group()] = errors.New("upstream 500")
	source.set(okA.Group(), courseWithSection("001", 2, 10))
	sender := &stubAlertSender{}

	summary := newTestMonitor(store, source, sender).RunCycle(context.Background())

	assert.Equal(t, 3, summary.Due)
	assert.Equal(t, 2, summary.Groups)
	assert.Equal(t, 1, summary.FetchFailures)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 2, summary.Notified)
	assert.Empty(t, store.runsFor(failing.ID))
	assert.Len(t, store.runsFor(okA.ID), 1)
	assert.Len(t, store.runsFor(okB.ID), 1)
	assert.Equal(t, 1, source.calls[okA.Group()])

	sent := append([]int64{}, sender.sent...)
	sort.Slice(sent, func(i, j int) bool { return sent[i] < sent[j] })
	assert.Equal(t, []int64{2, 3}, sent)
}

func TestMonitorEvaluationErrorKeepsPreviousEdge(t *testing.T) {
	sub := watchedSub(1, "CS101", "")
	store := newMemoryMonitorStore(sub)
	store.lastRun[sub.ID] = &models.Run{ID: 99, SubscriptionID: sub.ID, NotificationSent: true}
	source := newStubCourseSource()
	source.set(sub.Group(), &models.CourseData{})
	sender := &stubAlertSender{}

	summary := newTestMonitor(store, source, sender).RunCycle(context.Background())

	assert.Equal(t, 1, summary.EvaluationFailures)
	runs := store.runsFor(sub.ID)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].NotificationSent)
	require.NotNil(t, runs[0].Error)
	assert.Zero(t, sender.count())
}

func TestMonitorDeliveryFailureRetriesNextCycle(t *testing.T) {
	sub := watchedSub(1, "CS101", "")
	store := newMemoryMonitorStore(sub)
	source := newStubCourseSource()
	source.set(sub.Group(), courseWithSection("001", 4, 30))
	sender := &stubAlertSender{err: errors.New("carrier down")}
	monitor := newTestMonitor(store, source, sender)

	summary := monitor.RunCycle(context.Background())
	assert.Equal(t, 1, summary.DeliveryFailures)
	assert.Zero(t, summary.Notified)
	runs := store.runsFor(sub.ID)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].NotificationSent)
	require.NotNil(t, runs[0].Error)

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	summary = monitor.RunCycle(context.Background())
	assert.Equal(t, 1, summary.Notified)
	assert.True(t, store.runsFor(sub.ID)[1].NotificationSent)
}

func TestMonitorPersistenceAndPruneFailuresDoNotAbortCycle(t *testing.T) {
	broken := watchedSub(1, "CS101", "")
	healthy := watchedSub(2, "CS102", "")
	store := newMemoryMonitorStore(broken, healthy)
	store.runErr[broken.ID] = errors.New("pointer update failed")
	store.pruneErr = errors.New("disk full")
	source := newStubCourseSource()
	source.set(broken.Group(), courseWithSection("001", 0, 30))
	source.set(healthy.Group(), courseWithSection("001", 0, 30))

	summary := newTestMonitor(store, source, &stubAlertSender{}).RunCycle(context.Background())

	assert.Equal(t, 1, summary.PersistFailures)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, store.pruneCalls)
	assert.Empty(t, summary.Error)
}

func TestMonitorListFailureStillPrunes(t *testing.T) {
	store := newMemoryMonitorStore()
	store.listErr = errors.New("connection refused")

	summary := newTestMonitor(store, newStubCourseSource(), &stubAlertSender{}).RunCycle(context.Background())

	assert.Equal(t, "connection refused", summary.Error)
	assert.Zero(t, summary.Due)
	assert.Equal(t, 1, store.pruneCalls)
}

func TestMonitorSkipsOverlappingCycle(t *testing.T) {
	sub := watchedSub(1, "CS101", "")
	store := newMemoryMonitorStore(sub)
	source := newStubCourseSource()
	source.set(sub.Group(), courseWithSection("001", 0, 30))
	source.entered = make(chan struct{})
	source.release = make(chan struct{})
	monitor := newTestMonitor(store, source, &stubAlertSender{})

	done := make(chan models.CycleSummary)
	go func() { done <- monitor.RunCycle(context.Background()) }()
	<-source.entered

	skipped := monitor.RunCycle(context.Background())
	assert.True(t, skipped.Skipped)

	close(source.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Checked)
	require.NotNil(t, monitor.LastCycle())
	assert.False(t, monitor.LastCycle().Skipped)
}

func TestMonitorLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	monitor := newTestMonitor(newMemoryMonitorStore(), newStubCourseSource(), &stubAlertSender{})
	ctx := context.Background()

	assert.False(t, monitor.Running())
	monitor.Stop()

	monitor.Start(ctx)
	monitor.Start(ctx)
	assert.True(t, monitor.Running())

	require.NoError(t, monitor.SetInterval(2*time.Minute))
	assert.Equal(t, 2*time.Minute, monitor.Interval())
	assert.True(t, monitor.Running())
	assert.Nil(t, monitor.LastCycle())

	assert.Error(t, monitor.SetInterval(100*time.Millisecond))
	assert.Equal(t, 2*time.Minute, monitor.Interval())

	monitor.Stop()
	assert.False(t, monitor.Running())
	monitor.Stop()

	require.NoError(t, monitor.SetInterval(time.Second))
	assert.False(t, monitor.Running())
}

func TestMonitorRunsOnSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := watchedSub(1, "CS101", "")
	store := newMemoryMonitorStore(sub)
	source := newStubCourseSource()
	source.set(sub.Group(), courseWithSection("001", 1, 30))
	monitor := newTestMonitor(store, source, &stubAlertSender{})
	require.NoError(t, monitor.SetInterval(time.Second))

	monitor.Start(context.Background())
	require.Eventually(t, func() bool { return monitor.LastCycle() != nil }, 5*time.Second, 50*time.Millisecond)
	monitor.Stop()

	assert.NotEmpty(t, store.runsFor(sub.ID))
}

func TestGroupByCourseKeepsFirstSeenOrder(t *testing.T) {
	due := []models.ActiveSubscription{
		{Subscription: watchedSub(1, "B", "")},
		{Subscription: watchedSub(2, "A", "")},
		{Subscription: watchedSub(3, "B", "")},
	}
	batches := groupByCourse(due)
	require.Len(t, batches, 2)
	assert.Equal(t, "B", batches[0].group.Course)
	assert.Len(t, batches[0].subs, 2)
	assert.Equal(t, "A", batches[1].group.Course)
}
