package classroom

import (
	"fmt"
	"time"

	"classhub/pkg/types"
)

// timer is the mutable form of types.Timer. Times are Unix milliseconds.
// Invariant: status running implies startedAt set and pausedAt zero.
type timer struct {
	id        string
	name      string
	kind      types.TimerKind
	duration  int64
	elapsed   int64
	status    types.TimerStatus
	startedAt int64
	pausedAt  int64
}

func newTimer(id string, cfg types.TimerConfig) *timer {
	return &timer{
		id:       id,
		name:     cfg.Name,
		kind:     cfg.Kind,
		duration: cfg.DurationMs,
		status:   types.TimerStopped,
	}
}

func (t *timer) start(nowMs int64) error {
	switch t.status {
	case types.TimerPaused:
		// resume: shift the origin so live elapsed continues from the frozen value
		t.startedAt = nowMs - t.elapsed
	case types.TimerStopped:
		t.elapsed = 0
		t.startedAt = nowMs
	default:
		return fmt.Errorf("%w: start from %s", types.ErrInvalidTransition, t.status)
	}
	t.pausedAt = 0
	t.status = types.TimerRunning
	return nil
}

func (t *timer) pause(nowMs int64) error {
	if t.status != types.TimerRunning {
		return fmt.Errorf("%w: pause from %s", types.ErrInvalidTransition, t.status)
	}
	t.elapsed = nowMs - t.startedAt
	t.pausedAt = nowMs
	t.status = types.TimerPaused
	return nil
}

// stop resets from any status.
func (t *timer) stop() {
	t.status = types.TimerStopped
	t.elapsed = 0
	t.startedAt = 0
	t.pausedAt = 0
}

// expire completes a running duration timer whose time is up.
func (t *timer) expire(nowMs int64) bool {
	if t.status != types.TimerRunning || !t.kind.RequiresDuration() {
		return false
	}
	if nowMs-t.startedAt < t.duration {
		return false
	}
	t.elapsed = t.duration
	t.status = types.TimerCompleted
	return true
}

// view renders the timer with elapsed computed live for running timers.
func (t *timer) view(nowMs int64) types.Timer {
	elapsed := t.elapsed
	if t.status == types.TimerRunning {
		elapsed = nowMs - t.startedAt
	}
	return types.Timer{
		ID:          t.id,
		Name:        t.name,
		Kind:        t.kind,
		DurationMs:  t.duration,
		ElapsedMs:   elapsed,
		Status:      t.status,
		StartedAtMs: t.startedAt,
		PausedAtMs:  t.pausedAt,
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
