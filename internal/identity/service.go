package identity

import (
	"context"
	"fmt"
	"log/slog"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Service implements interfaces.Identity from signed tokens and the directory.
type Service struct {
	tokens    *Tokens
	directory *Directory
	logger    *slog.Logger
}

var _ interfaces.Identity = (*Service)(nil)

func NewService(tokens *Tokens, directory *Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{tokens: tokens, directory: directory, logger: logger}
}

// ValidateSession verifies the signature and expiry, then rejects tokens
// issued before the user's last revocation.
func (s *Service) ValidateSession(ctx context.Context, token string) (*types.Session, error) {
	session, issuedAt, err := s.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnauthenticated, err)
	}

	revokedAt, revoked, err := s.directory.RevokedAt(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if revoked && !issuedAt.After(revokedAt) {
		s.logger.Info("rejected revoked session", "identity_id", session.UserID)
		return nil, fmt.Errorf("%w: %w", types.ErrUnauthenticated, ErrRevoked)
	}
	return session, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.directory.GetUser(ctx, id)
}

func (s *Service) GetClassesForTeacher(ctx context.Context, teacherID string) ([]types.Class, error) {
	return s.directory.GetClassesForTeacher(ctx, teacherID)
}

func (s *Service) GetStudentClass(ctx context.Context, studentID string) (*types.Class, error) {
	return s.directory.GetStudentClass(ctx, studentID)
}
