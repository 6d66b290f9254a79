// Package jobs schedules the server's periodic maintenance work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"xox/internal/engine"
)

// Cron specs for the registered jobs.
const (
	ExpirySchedule = "@hourly"
	IdleSchedule   = "@every 10m"
	StatsSchedule  = "@every 1m"
)

// SubscriptionStore is the part of the user store the expiry sweep needs.
type SubscriptionStore interface {
	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

// SessionSource reports the engine's load and sweeps abandoned games.
type SessionSource interface {
	Stats(ctx context.Context) (engine.Stats, error)
	ExpireIdle(ctx context.Context, maxIdle time.Duration) (int, error)
}

// Runner owns the cron scheduler and the work it triggers.
type Runner struct {
	cron    *cron.Cron
	subs    SubscriptionStore
	engine  SessionSource
	log     *zap.Logger
	timeout time.Duration
	maxIdle time.Duration
	now     func() time.Time
}

// New registers the subscription expiry sweep, the idle session sweep and
// the engine stats log. Call Start to begin running them.
func New(subs SubscriptionStore, eng SessionSource, logger *zap.Logger, timeout, maxIdle time.Duration) (*Runner, error) {
	r := &Runner{
		cron:    cron.New(),
		subs:    subs,
		engine:  eng,
		log:     logger.Named("jobs"),
		timeout: timeout,
		maxIdle: maxIdle,
		now:     time.Now,
	}
	if _, err := r.cron.AddFunc(ExpirySchedule, r.ExpireSubscriptions); err != nil {
		return nil, fmt.Errorf("schedule subscription expiry: %w", err)
	}
	if _, err := r.cron.AddFunc(IdleSchedule, r.ExpireIdleSessions); err != nil {
		return nil, fmt.Errorf("schedule idle session sweep: %w", err)
	}
	if _, err := r.cron.AddFunc(StatsSchedule, r.LogStats); err != nil {
		return nil, fmt.Errorf("schedule stats log: %w", err)
	}
	return r, nil
}

// Start runs the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// ExpireSubscriptions switches off subscriptions whose expiry has passed.
func (r *Runner) ExpireSubscriptions() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.subs.ExpireSubscriptions(ctx, r.now())
	if err != nil {
		r.log.Error("expire subscriptions", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("expired subscriptions", zap.Int64("count", n))
	}
}

// ExpireIdleSessions drops live games that have seen no move for maxIdle.
func (r *Runner) ExpireIdleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.engine.ExpireIdle(ctx, r.maxIdle)
	if err != nil {
		r.log.Warn("expire idle sessions", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("expired idle sessions", zap.Int("count", n))
	}
}

// LogStats logs queue lengths and the number of live sessions.
func (r *Runner) LogStats() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	st, err := r.engine.Stats(ctx)
	if err != nil {
		r.log.Warn("engine stats", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.Int("sessions", st.Sessions)}
	for size, n := range st.Queued {
		fields = append(fields, zap.Int(fmt.Sprintf("queued_%dx%d", size, size), n))
	}
	r.log.Info("engine stats", fields...)
}
