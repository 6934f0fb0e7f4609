package rbac

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyard/tallyard/internal/shared"
	_ "github.com/tallyard/tallyard/testing"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	roles       map[int64]Role
	rolesByKey  map[string]int64
	grants      map[int64]map[Key]bool
	assignments map[int64]int64 // userID -> roleID
	activeCount map[int64]int64 // roleID -> active assignees
	nextRoleID  int64

	grantCalls  int
	upsertCalls int

	// Error injection
	getRoleErr error
	grantsErr  error
	upsertErr  error
	activeErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		roles:       make(map[int64]Role),
		rolesByKey:  make(map[string]int64),
		grants:      make(map[int64]map[Key]bool),
		assignments: make(map[int64]int64),
		activeCount: make(map[int64]int64),
		nextRoleID:  1,
	}
}

func (m *mockRepository) addRole(role Role) Role {
	if role.ID == 0 {
		role.ID = m.nextRoleID
		m.nextRoleID++
	} else if role.ID >= m.nextRoleID {
		m.nextRoleID = role.ID + 1
	}
	m.roles[role.ID] = role
	m.rolesByKey[FoldName(role.Name)] = role.ID
	return role
}

func (m *mockRepository) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	if m.getRoleErr != nil {
		return Role{}, m.getRoleErr
	}
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) InsertRole(ctx context.Context, name, nameKey, description string) (Role, error) {
	if _, dup := m.rolesByKey[nameKey]; dup {
		return Role{}, shared.ErrDuplicateName
	}
	return m.addRole(Role{Name: name, Description: description}), nil
}

func (m *mockRepository) DeleteRole(ctx context.Context, id int64) error {
	r, ok := m.roles[id]
	if !ok {
		return shared.ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolesByKey, FoldName(r.Name))
	delete(m.grants, id)
	return nil
}

func (m *mockRepository) CountActiveAssignments(ctx context.Context, roleID int64) (int64, error) {
	if m.activeErr != nil {
		return 0, m.activeErr
	}
	return m.activeCount[roleID], nil
}

func (m *mockRepository) RoleGrants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	m.grantCalls++
	if m.grantsErr != nil {
		return nil, m.grantsErr
	}
	rows := make([]RoleGrant, 0, len(m.grants[roleID]))
	var permID int64
	for key, canAccess := range m.grants[roleID] {
		permID++
		rows = append(rows, RoleGrant{PermissionID: permID, Key: key, CanAccess: canAccess})
	}
	return rows, nil
}

func (m *mockRepository) UpsertGrants(ctx context.Context, roleID int64, updates []GrantUpdate) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	set := m.grants[roleID]
	if set == nil {
		set = make(map[Key]bool)
		m.grants[roleID] = set
	}
	for _, u := range updates {
		set[u.Key] = u.CanAccess
	}
	return nil
}

func (m *mockRepository) ActiveRoleForUser(ctx context.Context, userID int64) (Role, error) {
	roleID, ok := m.assignments[userID]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return m.GetRole(ctx, roleID)
}

func (m *mockRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	catalog := DefaultCatalog()
	perms := make([]Permission, 0)
	var id int64
	for _, key := range catalog.Keys() {
		id++
		perms = append(perms, Permission{ID: id, Key: key})
	}
	return perms, nil
}

func (m *mockRepository) SyncCatalog(ctx context.Context, nodes []Node) (int, error) {
	total := 0
	for _, n := range nodes {
		total += len(n.Actions)
	}
	return total, nil
}

// mockPublisher records broadcast events in order.
type mockPublisher struct {
	events []ChangeEvent
	err    error
}

func (p *mockPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newTestService(repo *mockRepository, pub Publisher) *Service {
	return NewService(repo, DefaultCatalog(), nil, pub, slog.Default())
}

// ============================================================================
// ROLE REGISTRY
// ============================================================================

func TestCreateRole(t *testing.T) {
	repo := newMockRepository()
	pub := &mockPublisher{}
	svc := newTestService(repo, pub)

	role, err := svc.CreateRole(context.Background(), 1, "  Cashier  ", "Counter staff")
	require.NoError(t, err)
	assert.Equal(t, "Cashier", role.Name)
	assert.Equal(t, "Counter staff", role.Description)
	require.Len(t, pub.events, 1)
	assert.Equal(t, TableRoles, pub.events[0].Table)
	assert.Equal(t, OpInsert, pub.events[0].Op)
}

func TestCreateRoleDuplicateNameCaseInsensitive(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, &mockPublisher{})

	_, err := svc.CreateRole(context.Background(), 1, "Cashier", "")
	require.NoError(t, err)

	_, err = svc.CreateRole(context.Background(), 1, "CASHIER", "")
	require.ErrorIs(t, err, shared.ErrDuplicateName)
}

func TestCreateRoleEmptyName(t *testing.T) {
	svc := newTestService(newMockRepository(), &mockPublisher{})
	_, err := svc.CreateRole(context.Background(), 1, "   ", "")
	require.Error(t, err)
}

func TestDeleteRoleProtected(t *testing.T) {
	repo := newMockRepository()
	admin := repo.addRole(Role{Name: "Administrator", IsSystem: true, SystemKey: SystemKeyAdmin})
	svc := newTestService(repo, &mockPublisher{})

	err := svc.DeleteRole(context.Background(), 1, admin.ID)
	require.ErrorIs(t, err, shared.ErrProtectedRole)
	_, ok := repo.roles[admin.ID]
	assert.True(t, ok, "protected role must survive the delete attempt")
}

func TestDeleteRoleInUse(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Cashier"})
	repo.activeCount[role.ID] = 3
	svc := newTestService(repo, &mockPublisher{})

	err := svc.DeleteRole(context.Background(), 1, role.ID)
	require.ErrorIs(t, err, shared.ErrRoleInUse)
}

func TestDeleteRole(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Temp"})
	pub := &mockPublisher{}
	svc := newTestService(repo, pub)

	require.NoError(t, svc.DeleteRole(context.Background(), 1, role.ID))
	_, err := svc.GetRole(context.Background(), role.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Len(t, pub.events, 1)
	assert.Equal(t, OpDelete, pub.events[0].Op)
}

func TestDeleteRoleNotFound(t *testing.T) {
	svc := newTestService(newMockRepository(), &mockPublisher{})
	err := svc.DeleteRole(context.Background(), 1, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// ============================================================================
// MATRIX STORE
// ============================================================================

func TestCommitGrants(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Cashier"})
	pub := &mockPublisher{}
	svc := newTestService(repo, pub)

	counter := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionWrite}
	updates := []GrantUpdate{
		{Key: Key{Menu: MenuDashboard, Action: ActionRead}, CanAccess: true},
		{Key: counter, CanAccess: false},
		// Last write per key wins within a single batch.
		{Key: counter, CanAccess: true},
	}
	require.NoError(t, svc.CommitGrants(context.Background(), 1, role.ID, updates))

	assert.True(t, repo.grants[role.ID][counter])
	assert.True(t, repo.grants[role.ID][Key{Menu: MenuDashboard, Action: ActionRead}])
	require.Len(t, pub.events, 1)
	assert.Equal(t, TableRolePermissions, pub.events[0].Table)
	assert.Equal(t, OpUpsert, pub.events[0].Op)
	assert.Equal(t, role.ID, pub.events[0].RoleID)
}

func TestCommitGrantsUnknownKey(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Cashier"})
	svc := newTestService(repo, &mockPublisher{})

	err := svc.CommitGrants(context.Background(), 1, role.ID, []GrantUpdate{
		{Key: Key{Menu: "Bogus", Action: ActionRead}, CanAccess: true},
	})
	require.ErrorIs(t, err, shared.ErrPermissionNotFound)
	assert.Zero(t, repo.upsertCalls, "invalid batch must not reach the store")
}

func TestCommitGrantsStoreFailureChangesNothing(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Cashier"})
	repo.upsertErr = errors.New("connection reset")
	svc := newTestService(repo, &mockPublisher{})

	err := svc.CommitGrants(context.Background(), 1, role.ID, []GrantUpdate{
		{Key: Key{Menu: MenuDashboard, Action: ActionRead}, CanAccess: true},
	})
	require.Error(t, err)
	assert.Empty(t, repo.grants[role.ID])
}

func TestBaselineFor(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole(Role{Name: "Cashier"})
	read := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionRead}
	write := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionWrite}
	repo.grants[role.ID] = map[Key]bool{read: true, write: false}
	svc := newTestService(repo, &mockPublisher{})

	baseline, err := svc.BaselineFor(context.Background(), role.ID)
	require.NoError(t, err)
	assert.True(t, baseline[read])
	assert.False(t, baseline[write])
	// Absent keys stay absent; deny comes from the zero value, not a row.
	_, present := baseline[Key{Menu: MenuReports, Action: ActionRead}]
	assert.False(t, present)
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, FoldName("CASHIER"), FoldName("cashier"))
	assert.Equal(t, FoldName("  Cashier "), FoldName("cashier"))
	assert.NotEqual(t, FoldName("cashier"), FoldName("manager"))
}
