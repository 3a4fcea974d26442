package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"subyield/internal/models/db_models"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

// Config holds scheduler configuration.
type Config struct {
	Interval        time.Duration
	Concurrency     int
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	// EventBatch bounds a single read of the ledger event log.
	EventBatch int
	RunOnStart bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.EventBatch <= 0 {
		c.EventBatch = 500
	}
	return c
}

// Identity supplies the backend address the scheduler acts as.
type Identity interface {
	Backend() string
}

// TickReport summarizes one pass over the working set.
type TickReport struct {
	StartedAt         time.Time
	Duration          time.Duration
	Aborted           bool
	Tracked           int
	Due               int
	Charged           int
	ChargeFailures    int
	InsufficientFunds int
	Expired           int
	Errors            int
}

type Status struct {
	Running    bool
	Ticking    bool
	Tracked    int
	Cursor     uint64
	LastReport *TickReport
}

// PaymentScheduler drives recurring charges and expirations. It only decides when to call
// the ledger; a failure for one subscription never stops the others.
type PaymentScheduler struct {
	ledger   services.SubscriptionLedger
	set      WorkingSet
	identity Identity
	cfg      Config
	metrics  *Metrics
	logger   *zap.Logger

	newBackoff func() backoff.BackOff

	ticking atomic.Bool
	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    *TickReport
}

func NewPaymentScheduler(
	ledger services.SubscriptionLedger,
	set WorkingSet,
	identity Identity,
	cfg Config,
	metrics *Metrics,
	logger *zap.Logger,
) *PaymentScheduler {
	return &PaymentScheduler{
		ledger:   ledger,
		set:      set,
		identity: identity,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		logger:   logger.Named("scheduler"),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// Start schedules ticks every Interval and, if configured, runs one immediately.
func (s *PaymentScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(base) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("concurrency", s.cfg.Concurrency))

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick(base)
		}()
	}
	return nil
}

// Stop prevents new ticks and waits for the running one up to ShutdownTimeout before
// cancelling it.
func (s *PaymentScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	stopped := c.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("scheduler tick still running at shutdown, cancelling")
		cancel()
		<-done
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *PaymentScheduler) tick(ctx context.Context) {
	_, err := s.RunOnce(ctx)
	if err != nil && !errors.Is(err, utils.ErrTickInProgress) {
		s.logger.Error("scheduler tick failed", zap.Error(err))
	}
}

// RunOnce performs a single tick. Concurrent calls get ErrTickInProgress.
func (s *PaymentScheduler) RunOnce(ctx context.Context) (TickReport, error) {
	if !s.ticking.CompareAndSwap(false, true) {
		return TickReport{}, utils.ErrTickInProgress
	}
	defer s.ticking.Store(false)

	report := TickReport{StartedAt: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		if s.metrics != nil {
			s.metrics.observe(report)
		}
		s.mu.Lock()
		last := report
		s.last = &last
		s.mu.Unlock()
	}()

	if err := s.SyncEvents(ctx); err != nil {
		report.Aborted = true
		return report, fmt.Errorf("ledger unreachable, tick aborted: %w", err)
	}

	keys, err := s.set.Members(ctx)
	if err != nil {
		report.Aborted = true
		return report, err
	}
	report.Tracked = len(keys)

	var (
		mu     sync.Mutex
		g      errgroup.Group
		caller = s.identity.Backend()
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			out := s.process(ctx, caller, key)
			mu.Lock()
			report.add(out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("scheduler tick complete",
		zap.Int("tracked", report.Tracked),
		zap.Int("due", report.Due),
		zap.Int("charged", report.Charged),
		zap.Int("charge_failures", report.ChargeFailures),
		zap.Int("insufficient_funds", report.InsufficientFunds),
		zap.Int("expired", report.Expired),
		zap.Int("errors", report.Errors))
	return report, nil
}

type jobOutcome struct {
	due, charged, chargeFailed, insufficient, expired, errors int
}

func (r *TickReport) add(o jobOutcome) {
	r.Due += o.due
	r.Charged += o.charged
	r.ChargeFailures += o.chargeFailed
	r.InsufficientFunds += o.insufficient
	r.Expired += o.expired
	r.Errors += o.errors
}

// process charges a due subscription and then checks its expiration. The expiration check
// runs even when the charge failed so an unpaid subscription still lapses.
func (s *PaymentScheduler) process(ctx context.Context, caller string, key SubscriptionKey) jobOutcome {
	var out jobOutcome
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	log := s.logger.With(zap.String("subscription", key.String()))

	due, err := s.ledger.NeedsPayment(ctx, key.Subscriber, key.PlanID)
	switch {
	case err != nil:
		out.errors++
		log.Warn("payment check failed", zap.Error(err))
	case due:
		out.due++
		res, err := s.ledger.ProcessMonthlyPayment(ctx, caller, key.Subscriber, key.PlanID)
		switch {
		case errors.Is(err, utils.ErrInsufficientFunds):
			out.chargeFailed++
			out.insufficient++
			log.Warn("recurring charge failed: insufficient funds", zap.Error(err))
		case err != nil:
			out.chargeFailed++
			log.Error("recurring charge failed", zap.Error(err))
		case res.Charged:
			out.charged++
		}
	}

	res, err := s.ledger.CheckAndUpdateExpiration(ctx, caller, key.Subscriber, key.PlanID)
	switch {
	case err != nil:
		out.errors++
		log.Warn("expiration check failed", zap.Error(err))
	case res.Changed:
		out.expired++
		log.Info("subscription expired",
			zap.Int64("payout", res.Payout),
			zap.Int64("yield", res.Yield))
	}
	return out
}

// SyncEvents folds new ledger events into the working set. Reading the log is retried
// with exponential backoff.
func (s *PaymentScheduler) SyncEvents(ctx context.Context) error {
	cursor, err := s.set.Cursor(ctx)
	if err != nil {
		return err
	}
	for {
		var events []db_models.LedgerEvent
		read := func() error {
			var err error
			events, err = s.ledger.EventsSince(ctx, cursor, s.cfg.EventBatch)
			return err
		}
		notify := func(err error, wait time.Duration) {
			s.logger.Warn("ledger event read failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		}
		if err := backoff.RetryNotify(read, backoff.WithContext(s.newBackoff(), ctx), notify); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		batch := foldEvents(events)
		if err := s.set.Apply(ctx, batch); err != nil {
			return err
		}
		cursor = batch.Cursor
		if len(events) < s.cfg.EventBatch {
			return nil
		}
	}
}

// foldEvents reduces events to the final presence of each key they mention.
func foldEvents(events []db_models.LedgerEvent) Batch {
	present := make(map[SubscriptionKey]bool)
	var order []SubscriptionKey
	mark := func(k SubscriptionKey, v bool) {
		if _, seen := present[k]; !seen {
			order = append(order, k)
		}
		present[k] = v
	}
	for _, e := range events {
		key := SubscriptionKey{Subscriber: e.Subscriber, PlanID: e.PlanID}
		switch e.Kind {
		case db_models.EventSubscriptionCreated:
			mark(key, true)
		case db_models.EventSubscriptionCancelled, db_models.EventSubscriptionExpired:
			mark(key, false)
		}
	}

	batch := Batch{Cursor: events[len(events)-1].ID}
	for _, k := range order {
		if present[k] {
			batch.Add = append(batch.Add, k)
		} else {
			batch.Remove = append(batch.Remove, k)
		}
	}
	return batch
}

// Track adds a key by hand, for example after restoring the ledger from a backup.
func (s *PaymentScheduler) Track(ctx context.Context, key SubscriptionKey) error {
	return s.set.Add(ctx, key)
}

func (s *PaymentScheduler) Untrack(ctx context.Context, key SubscriptionKey) error {
	return s.set.Remove(ctx, key)
}

func (s *PaymentScheduler) Status(ctx context.Context) (Status, error) {
	tracked, err := s.set.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	cursor, err := s.set.Cursor(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running: s.cron != nil,
		Ticking: s.ticking.Load(),
		Tracked: tracked,
		Cursor:  cursor,
	}
	if s.last != nil {
		last := *s.last
		st.LastReport = &last
	}
	return st, nil
}

// cronLogger routes robfig/cron's logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
