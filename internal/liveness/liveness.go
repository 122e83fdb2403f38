// Package liveness runs the periodic heartbeat and reclamation sweeps.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"classhub/internal/metrics"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Config sets the sweep cadence and thresholds.
// TimerInterval 0 leaves timer completion to the reclaim sweep.
type Config struct {
	HeartbeatInterval time.Duration
	ReclaimInterval   time.Duration
	TimerInterval     time.Duration
	InactivityTimeout time.Duration
	ReclamationWindow time.Duration
}

// DefaultConfig mirrors the hub's shipped defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ReclaimInterval:   30 * time.Second,
		TimerInterval:     time.Second,
		InactivityTimeout: 90 * time.Second,
		ReclamationWindow: 5 * time.Minute,
	}
}

// Roster is what the loop needs from the connection registry.
type Roster interface {
	ForEachLive(fn func(types.ParticipantInfo, interfaces.Connection))
	StaleConnections(classID string, cutoff time.Time) []string
	Remove(connectionID, reason string) bool
}

// States is what the loop needs from the classroom store.
type States interface {
	Classes() []string
	CompleteExpired(classID string) ([]types.Timer, error)
	DeleteIfIdle(classID string, window time.Duration) bool
}

// Announcer broadcasts timers that ran out.
type Announcer interface {
	AnnounceCompleted(classID string, timers []types.Timer)
}

// Queues drops the command queue of a reclaimed class.
type Queues interface {
	Forget(classID string)
}

// Cleaner trims idle bookkeeping, such as rate limiter entries.
type Cleaner interface {
	Cleanup() int
}

// Deps groups the collaborators of a Loop. Queues and Cleaner are optional.
type Deps struct {
	Roster    Roster
	States    States
	Announcer Announcer
	Queues    Queues
	Cleaner   Cleaner
	Clock     interfaces.Clock
}

// Loop owns the cron scheduler that drives Heartbeat, CompleteTimers and Reclaim.
type Loop struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	cron    *cron.Cron
}

func NewLoop(deps Deps, cfg Config, logger *slog.Logger, collector *metrics.Collector) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cronLogger := cronLogger{logger: logger.With("component", "liveness")}
	return &Loop{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start schedules the sweeps and returns immediately.
func (l *Loop) Start() {
	l.cron.Schedule(cron.Every(l.cfg.HeartbeatInterval), cron.FuncJob(func() { l.Heartbeat() }))
	l.cron.Schedule(cron.Every(l.cfg.ReclaimInterval), cron.FuncJob(func() { l.Reclaim() }))
	if l.cfg.TimerInterval > 0 {
		l.cron.Schedule(cron.Every(l.cfg.TimerInterval), cron.FuncJob(func() { l.CompleteTimers() }))
	}
	l.cron.Start()
	l.logger.Info("liveness loop started",
		"heartbeat_interval", l.cfg.HeartbeatInterval, "reclaim_interval", l.cfg.ReclaimInterval,
		"timer_interval", l.cfg.TimerInterval)
}

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) error {
	done := l.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Heartbeat asks every live connection to send a protocol ping and returns
// how many were asked.
func (l *Loop) Heartbeat() int {
	n := 0
	l.deps.Roster.ForEachLive(func(_ types.ParticipantInfo, conn interfaces.Connection) {
		if conn.Ping() == nil {
			n++
		}
	})
	return n
}

// CompleteTimers announces every duration timer that ran out since the last
// sweep and returns how many were completed.
func (l *Loop) CompleteTimers() int {
	n := 0
	for _, classID := range l.deps.States.Classes() {
		n += l.completeTimers(classID)
	}
	return n
}

func (l *Loop) completeTimers(classID string) (n int) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("timer sweep panicked", "class_id", classID, "panic", rec)
		}
	}()
	completed, err := l.deps.States.CompleteExpired(classID)
	if err != nil || len(completed) == 0 {
		return 0
	}
	l.deps.Announcer.AnnounceCompleted(classID, completed)
	return len(completed)
}

// Reclaim sweeps every class once. A failure in one class never stops the
// sweep of the others.
func (l *Loop) Reclaim() {
	for _, classID := range l.deps.States.Classes() {
		l.reclaimClass(classID)
	}
	if l.deps.Cleaner != nil {
		l.deps.Cleaner.Cleanup()
	}
	l.metrics.SetActiveClassrooms(len(l.deps.States.Classes()))
}

func (l *Loop) reclaimClass(classID string) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("reclaim sweep panicked", "class_id", classID, "panic", rec)
		}
	}()

	cutoff := l.deps.Clock.Now().Add(-l.cfg.InactivityTimeout)
	removed := 0
	for _, id := range l.deps.Roster.StaleConnections(classID, cutoff) {
		if l.deps.Roster.Remove(id, "inactive") {
			removed++
		}
	}
	if removed > 0 {
		l.metrics.Reclaimed("connection", removed)
		l.logger.Info("removed inactive connections", "class_id", classID, "count", removed)
	}

	l.completeTimers(classID)

	// ARCHITECTURAL DISCOVERY: the queue goes with the state so a class that
	// comes back later starts from a clean worker
	if l.deps.States.DeleteIfIdle(classID, l.cfg.ReclamationWindow) {
		if l.deps.Queues != nil {
			l.deps.Queues.Forget(classID)
		}
		l.metrics.Reclaimed("classroom", 1)
		l.logger.Info("reclaimed idle classroom", "class_id", classID)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, append(keysAndValues, "error", err)...)
}
