package classroom

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// State is the ephemeral state of one class. It is only read or written while
// the owning class lock is held.
type State struct {
	ClassID      string
	TeacherID    string
	Mode         types.Mode
	Students     map[string]string // student id -> connection id
	Locked       map[string]bool   // explicit per-student lock overrides
	AllLocked    bool              // lock for students without an override
	LastActivity time.Time
	EmptySince   time.Time

	timers map[string]*timer
}

func newState(classID, teacherID string, now time.Time) *State {
	return &State{
		ClassID:      classID,
		TeacherID:    teacherID,
		Mode:         types.DefaultMode,
		Students:     make(map[string]string),
		Locked:       make(map[string]bool),
		LastActivity: now,
		EmptySince:   now,
		timers:       make(map[string]*timer),
	}
}

func (s *State) isLocked(studentID string) bool {
	if locked, ok := s.Locked[studentID]; ok {
		return locked
	}
	return s.AllLocked
}

// class is one shard: a class's state plus its live participants under one lock.
// ARCHITECTURAL DISCOVERY: roster and state share a lock so a broadcast never
// sees a roster that disagrees with the state it is announcing
type class struct {
	mu           sync.Mutex
	state        *State
	participants map[string]*participant
	removed      bool
}

func (c *class) snapshot(now time.Time) types.ClassroomSnapshot {
	nowMs := millis(now)
	snap := types.ClassroomSnapshot{
		ClassID:           c.state.ClassID,
		TeacherID:         c.state.TeacherID,
		Mode:              c.state.Mode,
		Timers:            make([]types.Timer, 0, len(c.state.timers)),
		ConnectedStudents: make([]string, 0, len(c.state.Students)),
		LockedStudents:    []string{},
		AllLocked:         c.state.AllLocked,
		LastActivity:      c.state.LastActivity,
	}
	for _, t := range c.state.timers {
		snap.Timers = append(snap.Timers, t.view(nowMs))
	}
	sort.Slice(snap.Timers, func(i, j int) bool { return snap.Timers[i].ID < snap.Timers[j].ID })

	for studentID := range c.state.Students {
		snap.ConnectedStudents = append(snap.ConnectedStudents, studentID)
		if c.state.isLocked(studentID) {
			snap.LockedStudents = append(snap.LockedStudents, studentID)
		}
	}
	sort.Strings(snap.ConnectedStudents)
	sort.Strings(snap.LockedStudents)
	return snap
}

// Store owns every class shard. Lock order is store map before class lock;
// nothing holding a class lock may take the store map lock.
type Store struct {
	mu      sync.RWMutex
	classes map[string]*class
	clock   interfaces.Clock
}

var _ interfaces.ClassroomStateStore = (*Store)(nil)

// NewStore creates an empty store reading time from clk.
func NewStore(clk interfaces.Clock) *Store {
	return &Store{
		classes: make(map[string]*class),
		clock:   clk,
	}
}

// acquire returns the class shard for classID, creating it if needed, with its
// lock held. teacherID fills an empty TeacherID; it never replaces one.
func (s *Store) acquire(classID, teacherID string) *class {
	for {
		s.mu.Lock()
		c, ok := s.classes[classID]
		if !ok {
			c = &class{
				state:        newState(classID, teacherID, s.clock.Now()),
				participants: make(map[string]*participant),
			}
			s.classes[classID] = c
		}
		s.mu.Unlock()

		c.mu.Lock()
		if c.removed {
			// RACE CONDITION FIX: reclaimed between lookup and lock, start over
			c.mu.Unlock()
			continue
		}
		if teacherID != "" && c.state.TeacherID == "" {
			c.state.TeacherID = teacherID
		}
		return c
	}
}

func (s *Store) lookup(classID string) *class {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classes[classID]
}

// withClass runs fn under the class lock, or returns ErrClassNotFound.
func (s *Store) withClass(classID string, fn func(c *class) error) error {
	c := s.lookup(classID)
	if c == nil {
		return types.ErrClassNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return types.ErrClassNotFound
	}
	return fn(c)
}

// GetOrCreate returns the single state for classID, creating it on first use.
// Repeated calls return the same pointer; the first teacher to attach wins.
func (s *Store) GetOrCreate(classID, teacherID string) *State {
	c := s.acquire(classID, teacherID)
	defer c.mu.Unlock()
	return c.state
}

// SetMode replaces the class mode and returns the previous one.
func (s *Store) SetMode(classID string, mode types.Mode) (types.Mode, error) {
	if !mode.IsValid() {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidMode, mode)
	}
	var previous types.Mode
	err := s.withClass(classID, func(c *class) error {
		previous = c.state.Mode
		c.state.Mode = mode
		c.state.LastActivity = s.clock.Now()
		return nil
	})
	return previous, err
}

// TimerOp applies one timer lifecycle operation and returns the resulting timer.
// For create, the id comes from cfg.ID, then timerID, then a fresh uuid.
func (s *Store) TimerOp(classID string, op types.TimerOp, timerID string, cfg *types.TimerConfig) (types.Timer, error) {
	var result types.Timer
	err := s.withClass(classID, func(c *class) error {
		now := s.clock.Now()
		nowMs := millis(now)
		timers := c.state.timers

		if op == types.TimerOpCreate {
			if cfg == nil {
				return fmt.Errorf("%w: missing config", types.ErrInvalidTimer)
			}
			if err := types.ValidateTimerConfig(*cfg); err != nil {
				return err
			}
			id := cfg.ID
			if id == "" {
				id = timerID
			}
			if id == "" {
				id = uuid.New().String()
			}
			if _, exists := timers[id]; exists {
				return fmt.Errorf("%w: %s", types.ErrTimerExists, id)
			}
			t := newTimer(id, *cfg)
			timers[id] = t
			c.state.LastActivity = now
			result = t.view(nowMs)
			return nil
		}

		t, ok := timers[timerID]
		switch op {
		case types.TimerOpStart, types.TimerOpPause, types.TimerOpStop, types.TimerOpDelete:
			if !ok {
				return fmt.Errorf("%w: %s", types.ErrTimerNotFound, timerID)
			}
		default:
			return fmt.Errorf("%w: %q", types.ErrInvalidTimerOp, op)
		}

		switch op {
		case types.TimerOpStart:
			if err := t.start(nowMs); err != nil {
				return err
			}
		case types.TimerOpPause:
			if err := t.pause(nowMs); err != nil {
				return err
			}
		case types.TimerOpStop:
			t.stop()
		case types.TimerOpDelete:
			delete(timers, timerID)
		}
		c.state.LastActivity = now
		result = t.view(nowMs)
		return nil
	})
	return result, err
}

// SetLock updates screen locks and returns the connected students whose lock
// state now matches locked. It does not notify anyone.
func (s *Store) SetLock(classID string, target types.LockTarget, locked bool) ([]string, error) {
	var affected []string
	err := s.withClass(classID, func(c *class) error {
		st := c.state
		if target.All {
			st.AllLocked = locked
			st.Locked = make(map[string]bool)
			for studentID := range st.Students {
				affected = append(affected, studentID)
			}
		} else {
			for _, studentID := range target.StudentIDs {
				st.Locked[studentID] = locked
				if _, connected := st.Students[studentID]; connected {
					affected = append(affected, studentID)
				}
			}
		}
		for _, p := range c.participants {
			if p.info.Role == types.RoleStudent {
				p.info.Locked = st.isLocked(p.info.IdentityID)
			}
		}
		st.LastActivity = s.clock.Now()
		return nil
	})
	sort.Strings(affected)
	return affected, err
}

// Snapshot returns a consistent copy of the class state.
func (s *Store) Snapshot(classID string) (types.ClassroomSnapshot, error) {
	var snap types.ClassroomSnapshot
	err := s.withClass(classID, func(c *class) error {
		snap = c.snapshot(s.clock.Now())
		return nil
	})
	return snap, err
}

// Touch records activity on the class.
func (s *Store) Touch(classID string) {
	_ = s.withClass(classID, func(c *class) error {
		c.state.LastActivity = s.clock.Now()
		return nil
	})
}

// CompleteExpired moves running duration timers whose time is up to completed
// and returns them.
func (s *Store) CompleteExpired(classID string) ([]types.Timer, error) {
	var completed []types.Timer
	err := s.withClass(classID, func(c *class) error {
		nowMs := millis(s.clock.Now())
		for _, t := range c.state.timers {
			if t.expire(nowMs) {
				completed = append(completed, t.view(nowMs))
			}
		}
		return nil
	})
	sort.Slice(completed, func(i, j int) bool { return completed[i].ID < completed[j].ID })
	return completed, err
}

// DeleteIfIdle removes the class once it has had no participants for at least
// window. It reports whether the class was removed.
func (s *Store) DeleteIfIdle(classID string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.classes[classID]
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.participants) > 0 || c.state.EmptySince.IsZero() {
		return false
	}
	if s.clock.Now().Sub(c.state.EmptySince) < window {
		return false
	}
	c.removed = true
	delete(s.classes, classID)
	return true
}

// Classes lists the ids of every class currently held.
func (s *Store) Classes() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.classes))
	for id := range s.classes {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) shards() []*class {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	return out
}
