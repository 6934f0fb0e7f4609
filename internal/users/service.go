package users

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/tallyard/tallyard/internal/rbac"
	"github.com/tallyard/tallyard/internal/shared"
)

// RepositoryPort defines data access methods for users and their role
// assignments.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ActiveAssignment(ctx context.Context, userID int64) (RoleAssignment, error)
	Reassign(ctx context.Context, userID, roleID int64) error
}

// Service handles user listing and role reassignment.
type Service struct {
	repo      RepositoryPort
	audit     *shared.AuditLogger
	publisher rbac.Publisher
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, publisher rbac.Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, publisher: publisher, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// ActiveAssignment returns the user's active role, or ErrNotFound when the
// user has none and is therefore denied everywhere.
func (s *Service) ActiveAssignment(ctx context.Context, userID int64) (RoleAssignment, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return RoleAssignment{}, err
	}
	return s.repo.ActiveAssignment(ctx, userID)
}

// Reassign moves the user onto a new role: exactly one prior assignment is
// deactivated and exactly one new one activated. The change is audited and
// broadcast so every evaluator drops its cached resolution for the user.
func (s *Service) Reassign(ctx context.Context, actorID, userID, roleID int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.Reassign(ctx, userID, roleID); err != nil {
		return err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "user.role.reassign",
			Entity:   "user_roles",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"role_id": roleID},
		}); err != nil && s.logger != nil {
			s.logger.Warn("audit reassign", slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		event := rbac.NewChangeEvent(rbac.TableUserRoles, rbac.OpUpdate, roleID, userID)
		if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
			s.logger.Warn("publish reassign", slog.Any("error", err))
		}
	}
	return nil
}
