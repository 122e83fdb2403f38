package types

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the classroom a participant is on.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// IsValid reports whether r is one of the two admission roles.
func (r Role) IsValid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Mode is the pedagogical mode of a classroom.
type Mode string

const (
	ModeInstruction Mode = "instruction"
	ModeExercise    Mode = "exercise"
	ModeTest        Mode = "test"
	ModeBreak       Mode = "break"
	ModeGroupWork   Mode = "group_work"
	ModeSilent      Mode = "silent"
)

// DefaultMode is the mode of a freshly created classroom.
const DefaultMode = ModeInstruction

// IsValid reports whether m is a known classroom mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeInstruction, ModeExercise, ModeTest, ModeBreak, ModeGroupWork, ModeSilent:
		return true
	}
	return false
}

// Kind is the envelope discriminator.
type Kind string

const (
	KindTeacherJoin         Kind = "teacher_join"
	KindStudentJoin         Kind = "student_join"
	KindClassroomMessage    Kind = "classroom_message"
	KindTimerControl        Kind = "timer_control"
	KindScreenControl       Kind = "screen_control"
	KindEmergencyAttention  Kind = "emergency_attention"
	KindClassroomModeChange Kind = "classroom_mode_change"
	KindAcknowledgment      Kind = "acknowledgment"
	KindConnectionStatus    Kind = "connection_status"
	KindPing                Kind = "ping"
	KindPong                Kind = "pong"
)

// IsControl reports whether k may only be issued by a teacher.
// ARCHITECTURAL DISCOVERY: authority is decided by kind alone, never by payload
func (k Kind) IsControl() bool {
	switch k {
	case KindClassroomMessage, KindTimerControl, KindScreenControl,
		KindEmergencyAttention, KindClassroomModeChange:
		return true
	}
	return false
}

// Envelope is the only frame shape on the wire.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	TargetIDs []string        `json:"targetIds,omitempty"`
}

// NewEnvelope marshals payload into a new envelope of the given kind.
// Timestamp and MessageID are left for the broadcast engine to stamp.
func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	env := &Envelope{Kind: kind}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return env, nil
}

// DecodeData unmarshals the envelope payload into v. An absent payload decodes as {}.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// TimerKind is the flavour of a classroom timer.
type TimerKind string

const (
	TimerCountdown TimerKind = "countdown"
	TimerStopwatch TimerKind = "stopwatch"
	TimerBreak     TimerKind = "break_timer"
	TimerExercise  TimerKind = "exercise_timer"
)

// RequiresDuration reports whether timers of this kind count toward a fixed duration.
func (k TimerKind) RequiresDuration() bool {
	return k != TimerStopwatch
}

// TimerStatus is the lifecycle position of a timer.
type TimerStatus string

const (
	TimerStopped   TimerStatus = "stopped"
	TimerRunning   TimerStatus = "running"
	TimerPaused    TimerStatus = "paused"
	TimerCompleted TimerStatus = "completed"
)

// TimerOp is a timer_control action.
type TimerOp string

const (
	TimerOpCreate TimerOp = "create"
	TimerOpStart  TimerOp = "start"
	TimerOpPause  TimerOp = "pause"
	TimerOpStop   TimerOp = "stop"
	TimerOpDelete TimerOp = "delete"
)

// TimerConfig is the teacher-supplied definition of a new timer.
type TimerConfig struct {
	ID         string    `json:"id,omitempty" validate:"omitempty,max=64"`
	Name       string    `json:"name" validate:"required,max=100"`
	Kind       TimerKind `json:"kind" validate:"required,oneof=countdown stopwatch break_timer exercise_timer"`
	DurationMs int64     `json:"durationMs,omitempty" validate:"gte=0"`
}

// Timer is the wire view of a classroom timer.
type Timer struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Kind        TimerKind   `json:"kind"`
	DurationMs  int64       `json:"durationMs,omitempty"`
	ElapsedMs   int64       `json:"elapsedMs"`
	Status      TimerStatus `json:"status"`
	StartedAtMs int64       `json:"startedAtMs,omitempty"`
	PausedAtMs  int64       `json:"pausedAtMs,omitempty"`
}

// ParticipantInfo is a read-only copy of a registered participant.
type ParticipantInfo struct {
	ConnectionID    string    `json:"connectionId"`
	Role            Role      `json:"role"`
	IdentityID      string    `json:"identityId"`
	ClassID         string    `json:"classId"`
	DisplayName     string    `json:"displayName,omitempty"`
	Locked          bool      `json:"locked,omitempty"`
	CurrentActivity string    `json:"currentActivity,omitempty"`
	LastActivity    time.Time `json:"lastActivity"`
}

// ClassroomSnapshot is a consistent copy of a classroom's ephemeral state.
type ClassroomSnapshot struct {
	ClassID           string    `json:"classId"`
	TeacherID         string    `json:"teacherId,omitempty"`
	Mode              Mode      `json:"currentMode"`
	Timers            []Timer   `json:"timers"`
	ConnectedStudents []string  `json:"connectedStudents"`
	LockedStudents    []string  `json:"lockedStudents"`
	AllLocked         bool      `json:"allLocked"`
	LastActivity      time.Time `json:"lastActivity"`
}

// IsLocked reports whether the student would currently see a locked screen.
func (s ClassroomSnapshot) IsLocked(studentID string) bool {
	for _, id := range s.LockedStudents {
		if id == studentID {
			return true
		}
	}
	return false
}

// Session is the result of validating an opaque session credential.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// User is a roster identity.
type User struct {
	ID   string `json:"id" db:"id" yaml:"id"`
	Name string `json:"name" db:"name" yaml:"name"`
	Role Role   `json:"role" db:"role" yaml:"role"`
}

// Class is a roster class owned by one teacher.
type Class struct {
	ID        string `json:"id" db:"id" yaml:"id"`
	Name      string `json:"name" db:"name" yaml:"name"`
	TeacherID string `json:"teacherId" db:"teacher_id" yaml:"teacher_id"`
}

// AdmissionRequest is what a transport knows about a connecting client.
type AdmissionRequest struct {
	Token   string
	Role    Role
	ClassID string
}

// Admission is the result of a successful admission.
type Admission struct {
	Participant      ParticipantInfo
	ClassName        string
	Snapshot         ClassroomSnapshot
	TeacherConnected bool
}

// LockTarget selects the students a screen lock applies to.
type LockTarget struct {
	All        bool
	StudentIDs []string
}
