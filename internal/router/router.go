// Package router applies inbound envelopes to classroom state and decides who
// hears about the result.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"classhub/internal/broadcast"
	"classhub/internal/metrics"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Router dispatches envelopes by kind. Handlers mutate state first and only
// then broadcast the post-mutation value.
type Router struct {
	registry interfaces.ConnectionRegistry
	store    interfaces.ClassroomStateStore
	engine   *broadcast.Engine
	limiter  *RateLimiter
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewRouter wires a router. limiter may be nil to disable rate limiting.
func NewRouter(registry interfaces.ConnectionRegistry, store interfaces.ClassroomStateStore, engine *broadcast.Engine, limiter *RateLimiter, logger *slog.Logger, collector *metrics.Collector) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		registry: registry,
		store:    store,
		engine:   engine,
		limiter:  limiter,
		logger:   logger,
		metrics:  collector,
	}
}

// Route handles one decoded envelope from sender. Errors describe what went
// wrong for logging; anything the sender needs to see has already been sent.
func (r *Router) Route(ctx context.Context, sender types.ParticipantInfo, env *types.Envelope) error {
	r.metrics.Envelope(string(env.Kind))

	// FUNCTIONAL DISCOVERY: unauthorized control is dropped without any reply
	// so a student client cannot probe which commands exist
	if env.Kind.IsControl() && sender.Role != types.RoleTeacher {
		r.metrics.AuthorityViolation()
		r.logger.Warn("dropped control envelope from non-teacher",
			"class_id", sender.ClassID, "connection_id", sender.ConnectionID,
			"identity_id", sender.IdentityID, "kind", env.Kind)
		return types.ErrAuthorityViolation
	}

	if !r.limiter.Allow(sender.ConnectionID) {
		r.metrics.RateLimited()
		r.replyStatusError(sender, types.CodeRateLimited, nil)
		return ErrRateLimitExceeded
	}

	clientMessageID := env.MessageID
	if env.MessageID == "" {
		env.MessageID = uuid.New().String()
	}

	switch env.Kind {
	case types.KindClassroomMessage:
		return r.handleClassroomMessage(sender, env)
	case types.KindTimerControl:
		return r.handleTimerControl(sender, env)
	case types.KindScreenControl:
		return r.handleScreenControl(sender, env)
	case types.KindEmergencyAttention:
		return r.handleEmergency(sender, env)
	case types.KindClassroomModeChange:
		return r.handleModeChange(sender, env)
	case types.KindAcknowledgment:
		return r.handleAcknowledgment(sender, env, clientMessageID)
	case types.KindConnectionStatus:
		return r.handleStatus(sender, env)
	case types.KindPing:
		r.engine.Notify(broadcast.Connection(sender.ClassID, sender.ConnectionID), types.KindPong,
			map[string]any{"replyTo": env.MessageID})
		return nil
	case types.KindPong:
		return nil
	default:
		r.replyStatusError(sender, types.CodeUnknownKind, map[string]any{"kind": env.Kind})
		return fmt.Errorf("%w: %q", types.ErrUnknownKind, env.Kind)
	}
}

// Malformed answers a frame that failed decoding.
func (r *Router) Malformed(sender types.ParticipantInfo, err error) {
	r.metrics.Malformed()
	r.replyStatusError(sender, types.CodeMalformedEnvelope, map[string]any{"detail": err.Error()})
}

// Forget drops per-connection routing state.
func (r *Router) Forget(connectionID string) {
	r.limiter.Forget(connectionID)
}

// Admitted tells teachers a student arrived. The joining connection has
// already been welcomed by the registry.
func (r *Router) Admitted(adm *types.Admission) {
	p := adm.Participant
	if p.Role != types.RoleStudent {
		return
	}
	r.engine.Notify(broadcast.Teachers(p.ClassID), types.KindConnectionStatus, map[string]any{
		"event":        "student_connected",
		"studentId":    p.IdentityID,
		"connectionId": p.ConnectionID,
		"isLocked":     p.Locked,
	})
}

func (r *Router) handleClassroomMessage(sender types.ParticipantInfo, env *types.Envelope) error {
	var p classroomMessagePayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	targets := mergeIDs(p.StudentIDs, env.TargetIDs)
	scope := broadcast.Class(sender.ClassID)
	if len(targets) > 0 {
		scope = broadcast.Students(sender.ClassID, targets...)
	}

	out, err := types.NewEnvelope(types.KindClassroomMessage, map[string]any{
		"message":     p.Message,
		"messageType": p.MessageType,
		"requiresAck": p.RequiresAck,
		"from":        sender.IdentityID,
	})
	if err != nil {
		return err
	}
	// acknowledgments correlate on the sender's message id
	out.MessageID = env.MessageID
	delivered := r.engine.Send(scope, out)

	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindClassroomMessage, map[string]any{
		"success":     true,
		"messageId":   env.MessageID,
		"message":     p.Message,
		"requiresAck": p.RequiresAck,
		"targetIds":   targets,
		"delivered":   delivered,
	})
	return nil
}

func (r *Router) handleTimerControl(sender types.ParticipantInfo, env *types.Envelope) error {
	var p timerControlPayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	timer, err := r.store.TimerOp(sender.ClassID, p.Action, p.TimerID, p.Config)
	if err != nil {
		return r.replyFailure(sender, env.Kind, err, map[string]any{"action": p.Action, "timerId": p.TimerID})
	}

	r.engine.Notify(broadcast.Class(sender.ClassID), types.KindTimerControl, map[string]any{
		"action":  p.Action,
		"timerId": timer.ID,
		"timer":   timer,
	})
	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindTimerControl, map[string]any{
		"success": true,
		"action":  p.Action,
		"timerId": timer.ID,
		"timer":   timer,
	})
	return nil
}

// AnnounceCompleted broadcasts timers the liveness loop found expired.
func (r *Router) AnnounceCompleted(classID string, timers []types.Timer) {
	for _, timer := range timers {
		payload := map[string]any{"action": "complete", "timerId": timer.ID, "timer": timer}
		r.engine.Notify(broadcast.Class(classID), types.KindTimerControl, payload)
		r.engine.Notify(broadcast.Teachers(classID), types.KindTimerControl, payload)
	}
}

func (r *Router) handleScreenControl(sender types.ParticipantInfo, env *types.Envelope) error {
	var p screenControlPayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	all := p.Action == "lock_all" || p.Action == "unlock_all"
	locked := p.Action == "lock_all" || p.Action == "lock"
	ids := mergeIDs(p.StudentIDs, env.TargetIDs)
	if !all && len(ids) == 0 {
		err := fmt.Errorf("%w: %s needs studentIds", types.ErrInvalidPayload, p.Action)
		return r.replyFailure(sender, env.Kind, err, map[string]any{"action": p.Action})
	}

	affected, err := r.store.SetLock(sender.ClassID, types.LockTarget{All: all, StudentIDs: ids}, locked)
	if err != nil {
		return r.replyFailure(sender, env.Kind, err, map[string]any{"action": p.Action})
	}

	studentAction := "unlock"
	if locked {
		studentAction = "lock"
	}
	studentPayload := map[string]any{"action": studentAction}
	if p.Message != "" {
		studentPayload["message"] = p.Message
	}
	if len(affected) > 0 {
		r.engine.Notify(broadcast.Students(sender.ClassID, affected...), types.KindScreenControl, studentPayload)
	}
	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindScreenControl, map[string]any{
		"success":  true,
		"action":   p.Action,
		"affected": affected,
		"message":  p.Message,
	})
	return nil
}

func (r *Router) handleEmergency(sender types.ParticipantInfo, env *types.Envelope) error {
	var p emergencyPayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}

	payload := map[string]any{"message": p.Message, "active": active}
	r.engine.Notify(broadcast.Class(sender.ClassID), types.KindEmergencyAttention, payload)
	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindEmergencyAttention, map[string]any{
		"success": true,
		"message": p.Message,
		"active":  active,
	})
	return nil
}

func (r *Router) handleModeChange(sender types.ParticipantInfo, env *types.Envelope) error {
	var p modeChangePayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	previous, err := r.store.SetMode(sender.ClassID, p.NewMode)
	if err != nil {
		return r.replyFailure(sender, env.Kind, err, map[string]any{"newMode": p.NewMode})
	}

	r.engine.Notify(broadcast.Class(sender.ClassID), types.KindClassroomModeChange, map[string]any{
		"newMode":      p.NewMode,
		"previousMode": previous,
	})
	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindClassroomModeChange, map[string]any{
		"success":      true,
		"newMode":      p.NewMode,
		"previousMode": previous,
	})
	return nil
}

func (r *Router) handleAcknowledgment(sender types.ParticipantInfo, env *types.Envelope, clientMessageID string) error {
	if sender.Role != types.RoleStudent {
		return nil
	}
	var p acknowledgmentPayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}
	messageID := p.MessageID
	if messageID == "" {
		messageID = clientMessageID
	}
	if messageID == "" {
		err := fmt.Errorf("%w: acknowledgment without messageId", types.ErrInvalidPayload)
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindAcknowledgment, map[string]any{
		"messageId":    messageID,
		"studentId":    sender.IdentityID,
		"connectionId": sender.ConnectionID,
		"response":     p.Response,
	})
	return nil
}

func (r *Router) handleStatus(sender types.ParticipantInfo, env *types.Envelope) error {
	var p statusPayload
	if err := decodePayload(env, &p); err != nil {
		return r.replyFailure(sender, env.Kind, err, nil)
	}

	if sender.Role == types.RoleStudent && p.CurrentActivity != nil {
		if info, ok := r.registry.SetActivity(sender.ConnectionID, *p.CurrentActivity); ok {
			sender = info
			r.engine.Notify(broadcast.Teachers(sender.ClassID), types.KindConnectionStatus, map[string]any{
				"event":           "activity_changed",
				"studentId":       sender.IdentityID,
				"connectionId":    sender.ConnectionID,
				"currentActivity": sender.CurrentActivity,
			})
		}
	}

	snap, err := r.store.Snapshot(sender.ClassID)
	if err != nil {
		r.replyStatusError(sender, types.ErrorCode(err), nil)
		return err
	}

	self := broadcast.Connection(sender.ClassID, sender.ConnectionID)
	if sender.Role == types.RoleTeacher {
		r.engine.Notify(self, types.KindConnectionStatus, map[string]any{
			"event":             "status",
			"currentMode":       snap.Mode,
			"timers":            snap.Timers,
			"connectedStudents": snap.ConnectedStudents,
			"lockedStudents":    snap.LockedStudents,
			"students":          r.registry.ListByClass(sender.ClassID, types.RoleStudent),
		})
		return nil
	}

	locked := sender.Locked
	if info, ok := r.registry.Lookup(sender.ConnectionID); ok {
		locked = info.Locked
	}
	r.engine.Notify(self, types.KindConnectionStatus, map[string]any{
		"event":       "status",
		"currentMode": snap.Mode,
		"isLocked":    locked,
		"timers":      snap.Timers,
	})
	return nil
}

// replyFailure answers only the issuer with {success:false, error}.
func (r *Router) replyFailure(sender types.ParticipantInfo, kind types.Kind, err error, extra map[string]any) error {
	payload := map[string]any{
		"success": false,
		"error":   types.ErrorCode(err),
		"detail":  err.Error(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	r.engine.Notify(broadcast.Connection(sender.ClassID, sender.ConnectionID), kind, payload)

	level := slog.LevelInfo
	if !errors.Is(err, types.ErrInvalidPayload) && types.ErrorCode(err) == types.CodeInternal {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "operation rejected",
		"class_id", sender.ClassID, "connection_id", sender.ConnectionID, "kind", kind, "error", err)
	return err
}

func (r *Router) replyStatusError(sender types.ParticipantInfo, code string, extra map[string]any) {
	payload := map[string]any{"error": code}
	for k, v := range extra {
		payload[k] = v
	}
	r.engine.Notify(broadcast.Connection(sender.ClassID, sender.ConnectionID), types.KindConnectionStatus, payload)
}
