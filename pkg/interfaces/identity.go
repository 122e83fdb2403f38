package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// Identity is the roster and credential collaborator consumed at admission.
// The hub never owns users or classes; it only asks.
type Identity interface {
	// ValidateSession resolves an opaque credential. An invalid or expired
	// credential yields an error wrapping types.ErrUnauthenticated.
	ValidateSession(ctx context.Context, token string) (*types.Session, error)

	GetUser(ctx context.Context, id string) (*types.User, error)

	GetClassesForTeacher(ctx context.Context, teacherID string) ([]types.Class, error)

	// GetStudentClass returns nil without error when the student has no class.
	GetStudentClass(ctx context.Context, studentID string) (*types.Class, error)
}
