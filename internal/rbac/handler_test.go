package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyard/tallyard/internal/shared"
)

type httpxProblem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type handlerFixture struct {
	repo   *mockRepository
	router chi.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	repo := newMockRepository()
	svc := newTestService(repo, &mockPublisher{})
	ev, err := NewEvaluator(DefaultCatalog(), repo, slog.Default(), nil, EvaluatorConfig{CacheSize: 8})
	require.NoError(t, err)

	handler := NewHandler(slog.Default(), svc, Middleware{Evaluator: ev, Logger: slog.Default()})
	router := chi.NewRouter()
	router.Route("/rbac", handler.MountRoutes)
	return &handlerFixture{repo: repo, router: router}
}

// asAdmin grants the caller the Administrator role.
func (f *handlerFixture) asAdmin() int64 {
	admin := f.repo.addRole(Role{Name: "Administrator", IsSystem: true, SystemKey: SystemKeyAdmin})
	f.repo.assignments[1] = admin.ID
	return 1
}

func (f *handlerFixture) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		sess := &shared.Session{}
		sess.SetUser(strconv.FormatInt(userID, 10))
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRequiresSession(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, 0, http.MethodGet, "/rbac/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerDeniesWithoutGrant(t *testing.T) {
	f := newHandlerFixture(t)
	cashier := f.repo.addRole(Role{Name: "Cashier"})
	f.repo.assignments[7] = cashier.ID

	rec := f.do(t, 7, http.MethodGet, "/rbac/roles", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerListCatalog(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()

	rec := f.do(t, actor, http.MethodGet, "/rbac/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Nodes []catalogNodeResponse `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Nodes, len(DefaultCatalog().Nodes()))
}

func TestHandlerCreateRole(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()

	rec := f.do(t, actor, http.MethodPost, "/rbac/roles", map[string]string{
		"name":        "Cashier",
		"description": "Counter staff",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var role roleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, "Cashier", role.Name)
	assert.False(t, role.IsSystem)
}

func TestHandlerCreateRoleDuplicate(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	f.repo.addRole(Role{Name: "Cashier"})

	rec := f.do(t, actor, http.MethodPost, "/rbac/roles", map[string]string{"name": "cashier"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var problem httpxProblem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Duplicate Name", problem.Title)
}

func TestHandlerCreateRoleValidation(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()

	rec := f.do(t, actor, http.MethodPost, "/rbac/roles", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDeleteProtectedRole(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	adminRoleID := f.repo.assignments[actor]

	rec := f.do(t, actor, http.MethodDelete, "/rbac/roles/"+strconv.FormatInt(adminRoleID, 10), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerDeleteRoleInUse(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	role := f.repo.addRole(Role{Name: "Cashier"})
	f.repo.activeCount[role.ID] = 2

	rec := f.do(t, actor, http.MethodDelete, "/rbac/roles/"+strconv.FormatInt(role.ID, 10), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerCommitGrants(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	role := f.repo.addRole(Role{Name: "Cashier"})

	rec := f.do(t, actor, http.MethodPut, "/rbac/roles/"+strconv.FormatInt(role.ID, 10)+"/grants", map[string]any{
		"updates": []map[string]any{
			{"menu": MenuSales, "submenu": SubmenuCounter, "action": "write", "can_access": true},
			{"menu": MenuDashboard, "action": "read", "can_access": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.repo.grants[role.ID][Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionWrite}])
}

func TestHandlerCommitGrantsUnknownKey(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	role := f.repo.addRole(Role{Name: "Cashier"})

	rec := f.do(t, actor, http.MethodPut, "/rbac/roles/"+strconv.FormatInt(role.ID, 10)+"/grants", map[string]any{
		"updates": []map[string]any{
			{"menu": "Payroll", "action": "read", "can_access": true},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerShowMatrix(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	role := f.repo.addRole(Role{Name: "Cashier"})
	read := Key{Menu: MenuSales, Submenu: SubmenuCounter, Action: ActionRead}
	f.repo.grants[role.ID] = map[Key]bool{read: true}

	rec := f.do(t, actor, http.MethodGet, "/rbac/roles/"+strconv.FormatInt(role.ID, 10)+"/matrix", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Pending int                  `json:"pending"`
		Cells   []matrixCellResponse `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Zero(t, payload.Pending)
	require.Len(t, payload.Cells, len(DefaultCatalog().Keys()))

	granted := 0
	for _, cell := range payload.Cells {
		if cell.CanAccess {
			granted++
			assert.Equal(t, MenuSales, cell.Menu)
			assert.Equal(t, SubmenuCounter, cell.Submenu)
		}
	}
	assert.Equal(t, 1, granted, "only the stored grant shows as accessible")
}

func TestHandlerShowMatrixAdminPrefill(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()
	adminRoleID := f.repo.assignments[actor]

	rec := f.do(t, actor, http.MethodGet, "/rbac/roles/"+strconv.FormatInt(adminRoleID, 10)+"/matrix", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Pending int                  `json:"pending"`
		Cells   []matrixCellResponse `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, len(DefaultCatalog().Keys()), payload.Pending)
	for _, cell := range payload.Cells {
		assert.True(t, cell.CanAccess)
		assert.True(t, cell.Pending)
	}
}

func TestHandlerRoleIDValidation(t *testing.T) {
	f := newHandlerFixture(t)
	actor := f.asAdmin()

	rec := f.do(t, actor, http.MethodGet, "/rbac/roles/abc/grants", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Sanity check that context round-trips the session the guard reads.
func TestCurrentUserID(t *testing.T) {
	sess := &shared.Session{}
	sess.SetUser("42")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithSession(context.Background(), sess))

	id, ok := CurrentUserID(req)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}
