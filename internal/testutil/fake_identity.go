package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// FakeIdentity is an in-memory roster. Every user's token is TokenFor(id).
type FakeIdentity struct {
	mu          sync.RWMutex
	users       map[string]types.User
	classes     map[string]types.Class
	enrollments map[string]string // student id -> class id
	revoked     map[string]bool
}

var _ interfaces.Identity = (*FakeIdentity)(nil)

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		users:       make(map[string]types.User),
		classes:     make(map[string]types.Class),
		enrollments: make(map[string]string),
		revoked:     make(map[string]bool),
	}
}

// TokenFor returns the credential FakeIdentity accepts for userID.
func TokenFor(userID string) string { return "token-" + userID }

// AddClass registers a teacher (if needed) and a class they own.
func (f *FakeIdentity) AddClass(classID, name, teacherID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[teacherID]; !ok {
		f.users[teacherID] = types.User{ID: teacherID, Name: teacherID, Role: types.RoleTeacher}
	}
	f.classes[classID] = types.Class{ID: classID, Name: name, TeacherID: teacherID}
}

// AddStudent registers a student enrolled in classID (empty for none).
func (f *FakeIdentity) AddStudent(studentID, classID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[studentID] = types.User{ID: studentID, Name: studentID, Role: types.RoleStudent}
	if classID != "" {
		f.enrollments[studentID] = classID
	}
}

// Revoke makes the user's token invalid.
func (f *FakeIdentity) Revoke(userID string) {
	f.mu.Lock()
	f.revoked[userID] = true
	f.mu.Unlock()
}

func (f *FakeIdentity) ValidateSession(ctx context.Context, token string) (*types.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id := range f.users {
		if TokenFor(id) == token && !f.revoked[id] {
			return &types.Session{UserID: id, ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown token", types.ErrUnauthenticated)
}

func (f *FakeIdentity) GetUser(ctx context.Context, id string) (*types.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &u, nil
}

func (f *FakeIdentity) GetClassesForTeacher(ctx context.Context, teacherID string) ([]types.Class, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []types.Class
	for _, c := range f.classes {
		if c.TeacherID == teacherID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeIdentity) GetStudentClass(ctx context.Context, studentID string) (*types.Class, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	classID, ok := f.enrollments[studentID]
	if !ok {
		return nil, nil
	}
	c, ok := f.classes[classID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
