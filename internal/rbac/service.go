package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tallyard/tallyard/internal/shared"
)

// RepositoryPort defines the persistence surface the service depends on.
// An in-memory double implements it in tests.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	InsertRole(ctx context.Context, name, nameKey, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountActiveAssignments(ctx context.Context, roleID int64) (int64, error)
	RoleGrants(ctx context.Context, roleID int64) ([]RoleGrant, error)
	UpsertGrants(ctx context.Context, roleID int64, updates []GrantUpdate) error
	ActiveRoleForUser(ctx context.Context, userID int64) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	SyncCatalog(ctx context.Context, nodes []Node) (int, error)
}

// Service orchestrates the role registry and the role-permission matrix.
// Every mutation is audited and broadcast so other instances invalidate
// their evaluator caches.
type Service struct {
	repo      RepositoryPort
	catalog   *Catalog
	audit     *shared.AuditLogger
	publisher Publisher
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, catalog *Catalog, audit *shared.AuditLogger, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, publisher: publisher, logger: logger}
}

// Catalog exposes the deployed permission catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new custom role. Name uniqueness is case-insensitive.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required")
	}
	role, err := s.repo.InsertRole(ctx, name, FoldName(name), strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, "role.create", "roles", role.ID, map[string]any{"name": role.Name})
	s.broadcast(ctx, NewChangeEvent(TableRoles, OpInsert, role.ID, 0))
	return role, nil
}

// DeleteRole removes a custom role together with its grant rows. System
// roles and roles with active assignees are refused; users are never
// silently orphaned.
func (s *Service) DeleteRole(ctx context.Context, actorID int64, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", shared.ErrProtectedRole, role.Name)
	}
	active, err := s.repo.CountActiveAssignments(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: %d active assignment(s)", shared.ErrRoleInUse, active)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "role.delete", "roles", id, map[string]any{"name": role.Name})
	s.broadcast(ctx, NewChangeEvent(TableRoles, OpDelete, id, 0))
	return nil
}

// Grants returns the stored grant rows for a role. Missing rows mean "not
// granted"; callers must not infer allow from absence.
func (s *Service) Grants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.RoleGrants(ctx, roleID)
}

// BaselineFor loads a role's grants as the keyed map an editor session works
// against.
func (s *Service) BaselineFor(ctx context.Context, roleID int64) (map[Key]bool, error) {
	rows, err := s.Grants(ctx, roleID)
	if err != nil {
		return nil, err
	}
	baseline := make(map[Key]bool, len(rows))
	for _, row := range rows {
		baseline[row.Key] = row.CanAccess
	}
	return baseline, nil
}

// CommitGrants applies a complete update batch for one role in a single
// transaction. The upsert is idempotent; committing the same batch twice
// leaves the same stored state. A failed commit changes nothing so the
// caller can retry with its pending buffer intact.
func (s *Service) CommitGrants(ctx context.Context, actorID int64, roleID int64, updates []GrantUpdate) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}

	// Last write per key wins within one batch, mirroring toggle order in
	// the editing session.
	byKey := make(map[Key]bool, len(updates))
	for _, u := range updates {
		if _, err := s.catalog.Resolve(u.Key); err != nil {
			return err
		}
		byKey[u.Key] = u.CanAccess
	}
	keys := make([]Key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	SortKeys(keys)
	batch := make([]GrantUpdate, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, GrantUpdate{Key: k, CanAccess: byKey[k]})
	}

	if err := s.repo.UpsertGrants(ctx, roleID, batch); err != nil {
		return err
	}
	s.record(ctx, actorID, "role.grants.commit", "role_permissions", roleID, map[string]any{"rows": len(batch)})
	s.broadcast(ctx, NewChangeEvent(TableRolePermissions, OpUpsert, roleID, 0))
	return nil
}

// ListPermissions returns the persisted catalog rows.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// SyncCatalog reconciles the code-defined catalog into the permissions
// table. Run at deployment and by the catalog sync job.
func (s *Service) SyncCatalog(ctx context.Context) (int, error) {
	return s.repo.SyncCatalog(ctx, s.catalog.Nodes())
}

// FoldName normalizes a role name for case-insensitive comparison.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("rbac audit record", slog.Any("error", err))
	}
}

func (s *Service) broadcast(ctx context.Context, event ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Warn("rbac publish change", slog.String("table", event.Table), slog.Any("error", err))
	}
}
