// Package sweep runs the periodic jobs that derive notifications from todo state: the
// due-soon/overdue sweep and the daily cleanup of read notifications.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zenlist/notifier/internal/notification"
)

type Config struct {
	// Interval between due/overdue sweeps.
	Interval time.Duration
	// CleanupHour is the local hour the daily cleanup runs in.
	CleanupHour int
	// Retention is how long read notifications are kept.
	Retention time.Duration
	// SubscriptionMaxIdle drops push subscriptions unused for longer. Zero keeps them.
	SubscriptionMaxIdle time.Duration
	// Location defines the day boundaries. Nil means time.Local.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		Interval:            time.Minute,
		CleanupHour:         2,
		Retention:           48 * time.Hour,
		SubscriptionMaxIdle: 30 * 24 * time.Hour,
		Location:            time.Local,
	}
}

// Report counts the outcome of one due/overdue sweep.
type Report struct {
	DueSoon int
	Overdue int
	Skipped int
	Failed  int
}

type CleanupReport struct {
	Notifications int64
	Subscriptions int64
}

// Scheduler owns both jobs: the due sweep on a ticker and the cleanup on a timer aimed at
// the next CleanupHour. Every run can also be invoked directly with an explicit time.
type Scheduler struct {
	todos    TodoSource
	store    notification.Store
	subs     notification.SubscriptionStore
	notifier notification.Notifier
	locker   Locker
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	done        chan struct{}
	lastCleanup string
}

type Option func(*Scheduler)

// WithLocker makes every job run take a lock first, so only one replica sweeps.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithSubscriptions enables pruning of idle push subscriptions during cleanup.
func WithSubscriptions(subs notification.SubscriptionStore) Option {
	return func(s *Scheduler) { s.subs = subs }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(todos TodoSource, store notification.Store, notifier notification.Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CleanupHour < 0 || cfg.CleanupHour > 23 {
		cfg.CleanupHour = def.CleanupHour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		todos:    todos,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "sweep"),
		tracer:   otel.Tracer("github.com/zenlist/notifier/internal/sweep"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the midnight-aligned [today, tomorrow) bounds of now in loc.
func Window(now time.Time, loc *time.Location) (today, tomorrow time.Time) {
	local := now.In(loc)
	today = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today, today.AddDate(0, 0, 1)
}

// Start launches the loop. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stopCh, s.done)
	s.logger.Info("sweep scheduler started", "interval", s.cfg.Interval.String(),
		"cleanup_hour", s.cfg.CleanupHour, "timezone", s.cfg.Location.String())
}

// Stop halts the loop and waits for a run in progress until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	// The jobs run in their own goroutines so a slow due sweep never holds back cleanup.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.dueLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scheduler) dueLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	timer := time.NewTimer(s.NextCleanup(s.now()).Sub(s.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := s.now()
			s.cleanupTick(ctx, now)
			timer.Reset(s.NextCleanup(now).Sub(s.now()))
		}
	}
}

// NextCleanup returns the first CleanupHour instant in the scheduler's location after now.
func (s *Scheduler) NextCleanup(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.CleanupHour, 0, 0, 0, s.cfg.Location)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.CleanupHour, 0, 0, 0, s.cfg.Location)
	}
	return next
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.acquire(ctx, "due", s.cfg.Interval) {
		if _, err := s.RunDueSweep(ctx, now); err != nil {
			s.logger.Error("due sweep failed", "error", err)
		}
	}
}

// cleanupTick runs the cleanup once per local day, on the first call at or after
// CleanupHour. A timer that fires late still catches up the same day.
func (s *Scheduler) cleanupTick(ctx context.Context, now time.Time) {
	local := now.In(s.cfg.Location)
	day := local.Format(time.DateOnly)
	if local.Hour() < s.cfg.CleanupHour || s.lastCleanup == day {
		return
	}
	s.lastCleanup = day
	if s.acquire(ctx, "cleanup:"+day, 23*time.Hour) {
		if _, err := s.RunCleanup(ctx, now); err != nil {
			s.logger.Error("cleanup sweep failed", "error", err)
		}
	}
}

func (s *Scheduler) acquire(ctx context.Context, name string, ttl time.Duration) bool {
	if s.locker == nil {
		return true
	}
	ok, err := s.locker.TryLock(ctx, name, ttl)
	if err != nil {
		s.logger.Warn("sweep lock unavailable, running anyway", "job", name, "error", err)
		return true
	}
	if !ok {
		JobRuns.WithLabelValues(jobLabel(name), "skipped_lock").Inc()
	}
	return ok
}

func jobLabel(name string) string {
	if name == "due" {
		return "due"
	}
	return "cleanup"
}

// RunDueSweep notifies every incomplete todo due today (due_soon) or before today (overdue)
// that has not been notified for that boundary yet. One todo failing does not stop the rest.
func (s *Scheduler) RunDueSweep(ctx context.Context, now time.Time) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.RunDueSweep")
	defer span.End()
	start := time.Now()

	today, tomorrow := Window(now, s.cfg.Location)
	var report Report

	dueSoon, err := s.todos.DueBetween(ctx, today, tomorrow)
	if err != nil {
		return s.fail(span, report, fmt.Errorf("load due soon todos: %w", err))
	}
	for _, t := range dueSoon {
		s.count(&report, notification.TypeDueSoon, s.notify(ctx, t, notification.TodoDueSoon{Todo: t.ref()}))
	}

	overdue, err := s.todos.DueBefore(ctx, today)
	if err != nil {
		return s.fail(span, report, fmt.Errorf("load overdue todos: %w", err))
	}
	for _, t := range overdue {
		s.count(&report, notification.TypeOverdue, s.notify(ctx, t, notification.TodoOverdue{Todo: t.ref()}))
	}

	span.SetAttributes(
		attribute.Int("sweep.due_soon", report.DueSoon),
		attribute.Int("sweep.overdue", report.Overdue),
		attribute.Int("sweep.failed", report.Failed),
	)
	JobRuns.WithLabelValues("due", "ok").Inc()
	JobDuration.WithLabelValues("due").Observe(time.Since(start).Seconds())
	s.logger.Info("due sweep finished",
		"due_soon_found", len(dueSoon), "overdue_found", len(overdue),
		"due_soon_created", report.DueSoon, "overdue_created", report.Overdue,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (s *Scheduler) fail(span trace.Span, report Report, err error) (Report, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	JobRuns.WithLabelValues("due", "failed").Inc()
	return report, err
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCreated
	outcomeSkipped
)

func (s *Scheduler) count(r *Report, t notification.Type, o outcome) {
	switch o {
	case outcomeCreated:
		if t == notification.TypeDueSoon {
			r.DueSoon++
		} else {
			r.Overdue++
		}
		SweepItems.WithLabelValues(string(t), "created").Inc()
	case outcomeSkipped:
		r.Skipped++
		SweepItems.WithLabelValues(string(t), "exists").Inc()
	default:
		r.Failed++
		SweepItems.WithLabelValues(string(t), "failed").Inc()
	}
}

// notify checks the key before dispatching, so a notification that already exists is
// left alone (its read state included) instead of being refreshed every tick.
func (s *Scheduler) notify(ctx context.Context, t Todo, ev notification.Event) (o outcome) {
	logger := s.logger.With("user_id", t.UserID, "todo_id", t.ID, "type", string(ev.Type()))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("sweep item panicked", "panic", fmt.Sprint(rec))
			o = outcomeFailed
		}
	}()

	key := notification.Key{UserID: t.UserID, RelatedItemID: ev.RelatedItemID(), Type: ev.Type()}
	_, err := s.store.FindByKey(ctx, key)
	switch {
	case err == nil:
		return outcomeSkipped
	case !errors.Is(err, notification.ErrNotFound):
		logger.Error("sweep lookup failed", "error", err)
		return outcomeFailed
	}

	if s.notifier.Dispatch(ctx, t.UserID, ev, t.Email) == nil {
		logger.Warn("sweep dispatch stored nothing")
		return outcomeFailed
	}
	return outcomeCreated
}

// RunCleanup deletes read notifications created before now minus the retention window
// and, when enabled, push subscriptions idle for longer than SubscriptionMaxIdle.
func (s *Scheduler) RunCleanup(ctx context.Context, now time.Time) (CleanupReport, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.RunCleanup")
	defer span.End()
	start := time.Now()

	var report CleanupReport
	cutoff := now.Add(-s.cfg.Retention)
	deleted, err := s.store.DeleteOldRead(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		JobRuns.WithLabelValues("cleanup", "failed").Inc()
		return report, fmt.Errorf("delete old read notifications: %w", err)
	}
	report.Notifications = deleted
	CleanupDeleted.WithLabelValues("notifications").Add(float64(deleted))

	if s.subs != nil && s.cfg.SubscriptionMaxIdle > 0 {
		n, err := s.subs.DeleteUnusedSince(ctx, now.Add(-s.cfg.SubscriptionMaxIdle))
		if err != nil {
			s.logger.Error("failed to prune idle push subscriptions", "error", err)
		} else {
			report.Subscriptions = n
			CleanupDeleted.WithLabelValues("subscriptions").Add(float64(n))
		}
	}

	span.SetAttributes(attribute.Int64("cleanup.notifications", report.Notifications))
	JobRuns.WithLabelValues("cleanup", "ok").Inc()
	JobDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
	s.logger.Info("cleanup finished", "cutoff", cutoff.Format(time.RFC3339),
		"notifications_deleted", report.Notifications, "subscriptions_deleted", report.Subscriptions)
	return report, nil
}
