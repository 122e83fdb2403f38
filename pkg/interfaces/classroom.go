package interfaces

import (
	"context"
	"time"

	"classhub/pkg/types"
)

// Clock supplies the current time so timer and liveness logic can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

// ConnectionRegistry tracks who is connected to which class.
type ConnectionRegistry interface {
	Admit(ctx context.Context, conn Connection, req types.AdmissionRequest) (*types.Admission, error)
	Touch(connectionID string)
	Remove(connectionID, reason string) bool
	Lookup(connectionID string) (types.ParticipantInfo, bool)
	ListByClass(classID string, role types.Role) []types.ParticipantInfo
	SetActivity(connectionID, activity string) (types.ParticipantInfo, bool)
}

// Roster lets a broadcaster walk a class's live connections while the roster
// is held still.
type Roster interface {
	ForEachConnection(classID string, match func(types.ParticipantInfo) bool, fn func(types.ParticipantInfo, Connection))
}

// ClassroomStateStore owns the per-class ephemeral state.
type ClassroomStateStore interface {
	SetMode(classID string, mode types.Mode) (types.Mode, error)
	TimerOp(classID string, op types.TimerOp, timerID string, cfg *types.TimerConfig) (types.Timer, error)
	SetLock(classID string, target types.LockTarget, locked bool) ([]string, error)
	Snapshot(classID string) (types.ClassroomSnapshot, error)
	Classes() []string
}

// Notifier receives registry lifecycle events that must reach other participants.
type Notifier interface {
	// Welcome queues the join acknowledgment for a freshly admitted
	// connection. It runs while the class is held still, so it writes to conn
	// directly and must not walk the roster.
	Welcome(adm *types.Admission, conn Connection)
	StudentDisconnected(student types.ParticipantInfo, reason string)
}
