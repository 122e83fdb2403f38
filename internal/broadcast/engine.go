// Package broadcast fans envelopes out to the live connections of a class.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"classhub/internal/metrics"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Engine delivers envelopes best-effort. A recipient that cannot accept a
// frame is logged and skipped; nothing is retried and no error reaches the caller.
type Engine struct {
	roster  interfaces.Roster
	clock   interfaces.Clock
	logger  *slog.Logger
	metrics *metrics.Collector
}

var _ interfaces.Notifier = (*Engine)(nil)

func NewEngine(roster interfaces.Roster, clk interfaces.Clock, logger *slog.Logger, collector *metrics.Collector) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{roster: roster, clock: clk, logger: logger, metrics: collector}
}

// Send stamps env with a timestamp and message id when absent, encodes it once
// and enqueues it to every connection in scope. It returns the number of
// recipients that accepted the frame.
func (e *Engine) Send(scope Scope, env *types.Envelope) int {
	Stamp(env, e.clock.Now())
	frame, err := json.Marshal(env)
	if err != nil {
		e.logger.Error("encode envelope", "kind", env.Kind, "class_id", scope.ClassID, "error", err)
		return 0
	}

	delivered, failed := 0, 0
	// TECHNICAL DISCOVERY: Send only enqueues, so fan-out under the class lock
	// never waits on a peer
	e.roster.ForEachConnection(scope.ClassID, scope.match, func(p types.ParticipantInfo, conn interfaces.Connection) {
		if err := conn.Send(frame); err != nil {
			failed++
			e.logger.Warn("delivery failed",
				"class_id", scope.ClassID, "connection_id", p.ConnectionID,
				"kind", env.Kind, "error", err)
			return
		}
		delivered++
	})
	e.metrics.Broadcast(delivered, failed)
	e.logger.Debug("broadcast",
		"class_id", scope.ClassID, "scope", scope.String(), "kind", env.Kind,
		"message_id", env.MessageID, "delivered", delivered, "failed", failed)
	return delivered
}

// Stamp fills the egress fields every outbound envelope carries.
func Stamp(env *types.Envelope, now time.Time) {
	if env.MessageID == "" {
		env.MessageID = uuid.New().String()
	}
	if env.Timestamp == 0 {
		env.Timestamp = now.UnixMilli()
	}
}

// Notify builds an envelope from payload and sends it.
func (e *Engine) Notify(scope Scope, kind types.Kind, payload any) int {
	env, err := types.NewEnvelope(kind, payload)
	if err != nil {
		e.logger.Error("encode payload", "kind", kind, "class_id", scope.ClassID, "error", err)
		return 0
	}
	return e.Send(scope, env)
}

// StudentDisconnected tells the class's teachers that a student left.
func (e *Engine) StudentDisconnected(student types.ParticipantInfo, reason string) {
	e.Notify(Teachers(student.ClassID), types.KindConnectionStatus, map[string]any{
		"event":        "student_disconnected",
		"studentId":    student.IdentityID,
		"connectionId": student.ConnectionID,
		"reason":       reason,
	})
}

// Welcome writes the join acknowledgment straight to the admitted connection.
// The registry calls it with the class lock held.
func (e *Engine) Welcome(adm *types.Admission, conn interfaces.Connection) {
	kind, payload := joinAck(adm)
	env, err := types.NewEnvelope(kind, payload)
	if err != nil {
		e.logger.Error("encode payload", "kind", kind, "class_id", adm.Participant.ClassID, "error", err)
		return
	}
	Stamp(env, e.clock.Now())
	frame, err := json.Marshal(env)
	if err != nil {
		e.logger.Error("encode envelope", "kind", kind, "class_id", adm.Participant.ClassID, "error", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		e.metrics.Broadcast(0, 1)
		e.logger.Warn("delivery failed",
			"class_id", adm.Participant.ClassID, "connection_id", conn.ID(),
			"kind", kind, "error", err)
		return
	}
	e.metrics.Broadcast(1, 0)
}

func joinAck(adm *types.Admission) (types.Kind, map[string]any) {
	p := adm.Participant
	snap := adm.Snapshot
	if p.Role == types.RoleTeacher {
		return types.KindTeacherJoin, map[string]any{
			"classId":           p.ClassID,
			"className":         adm.ClassName,
			"connectionId":      p.ConnectionID,
			"currentMode":       snap.Mode,
			"timers":            snap.Timers,
			"connectedStudents": snap.ConnectedStudents,
			"lockedStudents":    snap.LockedStudents,
		}
	}
	return types.KindStudentJoin, map[string]any{
		"classId":          p.ClassID,
		"studentId":        p.IdentityID,
		"connectionId":     p.ConnectionID,
		"currentMode":      snap.Mode,
		"isLocked":         p.Locked,
		"timers":           snap.Timers,
		"teacherConnected": adm.TeacherConnected,
	}
}
