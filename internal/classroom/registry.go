package classroom

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"classhub/internal/metrics"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// participant is the canonical record of one admitted connection.
type participant struct {
	info types.ParticipantInfo
	conn interfaces.Connection
}

// Registry admits connections into classes and tracks them until removal.
// ARCHITECTURAL DISCOVERY: participants live inside the class shard so that
// roster reads and state mutations serialize on the same lock
type Registry struct {
	store    *Store
	identity interfaces.Identity
	clock    interfaces.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu       sync.RWMutex
	index    map[string]string // connection id -> class id
	notifier interfaces.Notifier
}

var (
	_ interfaces.ConnectionRegistry = (*Registry)(nil)
	_ interfaces.Roster             = (*Registry)(nil)
)

// NewRegistry creates a registry over store, resolving identities through identity.
func NewRegistry(store *Store, identity interfaces.Identity, logger *slog.Logger, collector *metrics.Collector) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:    store,
		identity: identity,
		clock:    store.clock,
		logger:   logger,
		metrics:  collector,
		index:    make(map[string]string),
	}
}

// SetNotifier installs the receiver of join and disconnect notices. The broadcast
// engine is built on top of the registry, so it is wired after construction.
func (r *Registry) SetNotifier(n interfaces.Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

// Admit authenticates the connection, resolves its class and attaches it.
func (r *Registry) Admit(ctx context.Context, conn interfaces.Connection, req types.AdmissionRequest) (*types.Admission, error) {
	adm, err := r.admit(ctx, conn, req)
	if err != nil {
		r.metrics.Admission(string(req.Role), types.AdmissionCode(err))
		return nil, err
	}
	r.metrics.Admission(string(req.Role), "ok")
	r.metrics.ConnectionOpened(string(req.Role))
	return adm, nil
}

func (r *Registry) admit(ctx context.Context, conn interfaces.Connection, req types.AdmissionRequest) (*types.Admission, error) {
	if req.Token == "" {
		return nil, fmt.Errorf("%w: missing credential", types.ErrUnauthenticated)
	}
	session, err := r.identity.ValidateSession(ctx, req.Token)
	if err != nil || session == nil {
		return nil, fmt.Errorf("%w: invalid credential", types.ErrUnauthenticated)
	}
	user, err := r.identity.GetUser(ctx, session.UserID)
	if err != nil || user == nil {
		return nil, fmt.Errorf("%w: unknown user %s", types.ErrUnauthenticated, session.UserID)
	}
	if user.Role != req.Role {
		return nil, fmt.Errorf("%w: %s is a %s", types.ErrRoleMismatch, user.ID, user.Role)
	}

	cls, err := r.resolveClass(ctx, user, req.ClassID)
	if err != nil {
		return nil, err
	}

	teacherID := ""
	if user.Role == types.RoleTeacher {
		teacherID = user.ID
	}

	c := r.store.acquire(cls.ID, teacherID)
	now := r.clock.Now()
	p := &participant{
		info: types.ParticipantInfo{
			ConnectionID: conn.ID(),
			Role:         user.Role,
			IdentityID:   user.ID,
			ClassID:      cls.ID,
			LastActivity: now,
		},
		conn: conn,
	}

	var superseded *participant
	st := c.state
	if user.Role == types.RoleTeacher {
		p.info.DisplayName = cls.Name
	} else {
		if oldID, ok := st.Students[user.ID]; ok {
			superseded = c.participants[oldID]
			delete(c.participants, oldID)
		}
		st.Students[user.ID] = p.info.ConnectionID
		p.info.Locked = st.isLocked(user.ID)
	}
	c.participants[p.info.ConnectionID] = p
	st.EmptySince = time.Time{}
	st.LastActivity = now

	adm := &types.Admission{
		Participant:      p.info,
		ClassName:        cls.Name,
		Snapshot:         c.snapshot(now),
		TeacherConnected: c.hasRole(types.RoleTeacher),
	}

	r.mu.Lock()
	r.index[p.info.ConnectionID] = cls.ID
	if superseded != nil {
		delete(r.index, superseded.info.ConnectionID)
	}
	notifier := r.notifier
	r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: the join ack is queued before the class lock is
	// released, otherwise a broadcast could overtake it and the ack would
	// carry a snapshot older than what the connection has already seen
	if notifier != nil {
		notifier.Welcome(adm, conn)
	}
	c.mu.Unlock()

	if superseded != nil {
		// FUNCTIONAL DISCOVERY: a reconnecting student replaces its stale socket
		// without teachers seeing a disconnect/connect flicker
		r.metrics.ConnectionClosed(string(types.RoleStudent))
		r.logger.Info("participant superseded",
			"class_id", cls.ID, "connection_id", superseded.info.ConnectionID, "identity_id", user.ID)
		go func(old interfaces.Connection) { _ = old.Close() }(superseded.conn)
	}

	r.logger.Info("participant admitted",
		"class_id", cls.ID, "connection_id", p.info.ConnectionID,
		"role", user.Role, "identity_id", user.ID)
	return adm, nil
}

func (r *Registry) resolveClass(ctx context.Context, user *types.User, classID string) (*types.Class, error) {
	if user.Role == types.RoleTeacher {
		classes, err := r.identity.GetClassesForTeacher(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("classes for teacher %s: %w", user.ID, err)
		}
		if classID == "" && len(classes) == 1 {
			return &classes[0], nil
		}
		for i := range classes {
			if classes[i].ID == classID {
				return &classes[i], nil
			}
		}
		return nil, fmt.Errorf("%w: %q for teacher %s", types.ErrClassNotFound, classID, user.ID)
	}

	cls, err := r.identity.GetStudentClass(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("class for student %s: %w", user.ID, err)
	}
	if cls == nil || (classID != "" && cls.ID != classID) {
		return nil, fmt.Errorf("%w: student %s", types.ErrClassNotFound, user.ID)
	}
	return cls, nil
}

func (c *class) hasRole(role types.Role) bool {
	for _, p := range c.participants {
		if p.info.Role == role {
			return true
		}
	}
	return false
}

// classOf resolves a connection to its locked class shard. The caller unlocks.
func (r *Registry) classOf(connectionID string) (*class, *participant) {
	r.mu.RLock()
	classID, ok := r.index[connectionID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	c := r.store.lookup(classID)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	p := c.participants[connectionID]
	if c.removed || p == nil {
		c.mu.Unlock()
		return nil, nil
	}
	return c, p
}

// Touch records activity for the connection and its class.
func (r *Registry) Touch(connectionID string) {
	c, p := r.classOf(connectionID)
	if c == nil {
		return
	}
	now := r.clock.Now()
	p.info.LastActivity = now
	c.state.LastActivity = now
	c.mu.Unlock()
}

// Lookup returns a copy of the participant record.
func (r *Registry) Lookup(connectionID string) (types.ParticipantInfo, bool) {
	c, p := r.classOf(connectionID)
	if c == nil {
		return types.ParticipantInfo{}, false
	}
	info := p.info
	c.mu.Unlock()
	return info, true
}

// SetActivity records what a student is currently working on.
func (r *Registry) SetActivity(connectionID, activity string) (types.ParticipantInfo, bool) {
	c, p := r.classOf(connectionID)
	if c == nil {
		return types.ParticipantInfo{}, false
	}
	p.info.CurrentActivity = activity
	p.info.LastActivity = r.clock.Now()
	info := p.info
	c.mu.Unlock()
	return info, true
}

// Remove detaches the connection and closes it. It is idempotent; only the
// first call for a connection returns true. Removing a student notifies the
// class's teachers once; a connection superseded by a reconnect is already gone.
func (r *Registry) Remove(connectionID, reason string) bool {
	r.mu.Lock()
	classID, ok := r.index[connectionID]
	delete(r.index, connectionID)
	notifier := r.notifier
	r.mu.Unlock()
	if !ok {
		return false
	}

	c := r.store.lookup(classID)
	if c == nil {
		return false
	}

	c.mu.Lock()
	p, ok := c.participants[connectionID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.participants, connectionID)
	st := c.state
	if p.info.Role == types.RoleStudent && st.Students[p.info.IdentityID] == connectionID {
		delete(st.Students, p.info.IdentityID)
	}
	if len(c.participants) == 0 {
		st.EmptySince = r.clock.Now()
	}
	notify := p.info.Role == types.RoleStudent
	info := p.info
	c.mu.Unlock()

	_ = p.conn.Close()
	r.metrics.ConnectionClosed(string(info.Role))
	r.logger.Info("participant removed",
		"class_id", classID, "connection_id", connectionID,
		"role", info.Role, "reason", reason)

	if notify && notifier != nil {
		notifier.StudentDisconnected(info, reason)
	}
	return true
}

// ListByClass returns the participants of a class; an empty role matches all.
func (r *Registry) ListByClass(classID string, role types.Role) []types.ParticipantInfo {
	var out []types.ParticipantInfo
	r.ForEachConnection(classID,
		func(info types.ParticipantInfo) bool { return role == "" || info.Role == role },
		func(info types.ParticipantInfo, _ interfaces.Connection) { out = append(out, info) })
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// ForEachConnection calls fn for each matching participant of the class while
// the class lock is held. fn must not block or call back into the registry.
func (r *Registry) ForEachConnection(classID string, match func(types.ParticipantInfo) bool, fn func(types.ParticipantInfo, interfaces.Connection)) {
	c := r.store.lookup(classID)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return
	}
	for _, p := range c.participants {
		if match == nil || match(p.info) {
			fn(p.info, p.conn)
		}
	}
}

// ForEachLive calls fn for every live connection in every class.
func (r *Registry) ForEachLive(fn func(types.ParticipantInfo, interfaces.Connection)) {
	for _, c := range r.store.shards() {
		c.mu.Lock()
		if !c.removed {
			for _, p := range c.participants {
				fn(p.info, p.conn)
			}
		}
		c.mu.Unlock()
	}
}

// StaleConnections lists connections of the class idle since before cutoff.
func (r *Registry) StaleConnections(classID string, cutoff time.Time) []string {
	var stale []string
	r.ForEachConnection(classID,
		func(info types.ParticipantInfo) bool { return info.LastActivity.Before(cutoff) },
		func(info types.ParticipantInfo, _ interfaces.Connection) { stale = append(stale, info.ConnectionID) })
	sort.Strings(stale)
	return stale
}

// Stats reports connection counts for the ops surface.
func (r *Registry) Stats() map[string]int {
	stats := map[string]int{"teachers": 0, "students": 0, "classes": 0}
	for _, c := range r.store.shards() {
		c.mu.Lock()
		if !c.removed {
			stats["classes"]++
			for _, p := range c.participants {
				if p.info.Role == types.RoleTeacher {
					stats["teachers"]++
				} else {
					stats["students"]++
				}
			}
		}
		c.mu.Unlock()
	}
	stats["total"] = stats["teachers"] + stats["students"]
	return stats
}
