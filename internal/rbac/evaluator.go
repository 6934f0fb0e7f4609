package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tallyard/tallyard/internal/observability"
	"github.com/tallyard/tallyard/internal/shared"
)

// GrantSource is the read path the evaluator depends on: resolve a user's
// active role and load a role's stored grant rows.
type GrantSource interface {
	ActiveRoleForUser(ctx context.Context, userID int64) (Role, error)
	RoleGrants(ctx context.Context, roleID int64) ([]RoleGrant, error)
}

type grantSet map[Key]Grant

// Evaluator answers hasPermission checks. It gates rendering decisions and
// server-side re-checks, so lookups are memoized per role and per user and
// invalidated by the propagation listener.
type Evaluator struct {
	catalog *Catalog
	source  GrantSource
	logger  *slog.Logger
	metrics *observability.Metrics

	// strict makes a guard referencing an unknown catalog key panic instead
	// of deny. Enabled in development only.
	strict bool

	roleCache *lru.Cache[int64, grantSet]
	userCache *lru.Cache[int64, Role]
	group     singleflight.Group
}

// EvaluatorConfig tunes evaluator construction.
type EvaluatorConfig struct {
	CacheSize int
	Strict    bool
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(catalog *Catalog, source GrantSource, logger *slog.Logger, metrics *observability.Metrics, cfg EvaluatorConfig) (*Evaluator, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	roleCache, err := lru.New[int64, grantSet](size)
	if err != nil {
		return nil, err
	}
	userCache, err := lru.New[int64, Role](size * 4)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		catalog:   catalog,
		source:    source,
		logger:    logger,
		metrics:   metrics,
		strict:    cfg.Strict,
		roleCache: roleCache,
		userCache: userCache,
	}, nil
}

// HasPermission reports whether the user may perform action on the node.
// Evaluation order: no active role denies; the Administrator system role
// allows unconditionally; otherwise the stored grant row decides, with a
// missing row denying. Store failures are returned to the caller and must be
// treated as deny.
func (e *Evaluator) HasPermission(ctx context.Context, userID int64, menu, submenu string, action Action) (bool, error) {
	key := Key{Menu: menu, Submenu: submenu, Action: action}
	if !e.catalog.Contains(key) {
		if e.strict {
			panic("rbac: guard references unknown catalog key " + key.String())
		}
		e.metricsDecision(false)
		return false, fmt.Errorf("%w: %s", shared.ErrPermissionNotFound, key)
	}

	role, err := e.activeRole(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.metricsDecision(false)
			return false, nil
		}
		e.metricsDecision(false)
		return false, err
	}

	if role.Kind() == KindSystemAdmin {
		e.metricsDecision(true)
		return true, nil
	}

	grants, err := e.roleGrants(ctx, role.ID)
	if err != nil {
		e.metricsDecision(false)
		return false, err
	}

	allowed := grants[key].Allowed()
	e.metricsDecision(allowed)
	return allowed, nil
}

// Allowed folds evaluation failures into deny. Callers that cannot surface
// an error (template guards, menu rendering) use this; the failure is logged
// for operators since a denied screen looks identical either way.
func (e *Evaluator) Allowed(ctx context.Context, userID int64, menu, submenu string, action Action) bool {
	ok, err := e.HasPermission(ctx, userID, menu, submenu, action)
	if err != nil && e.logger != nil {
		e.logger.Error("rbac evaluate failed, denying",
			slog.Int64("user_id", userID),
			slog.String("key", Key{Menu: menu, Submenu: submenu, Action: action}.String()),
			slog.Any("error", err))
	}
	return ok && err == nil
}

// InvalidateRole drops the cached grant set for a role.
func (e *Evaluator) InvalidateRole(roleID int64) {
	if roleID == 0 {
		e.roleCache.Purge()
		return
	}
	e.roleCache.Remove(roleID)
}

// InvalidateUser drops the cached role resolution for a user.
func (e *Evaluator) InvalidateUser(userID int64) {
	if userID == 0 {
		e.userCache.Purge()
		return
	}
	e.userCache.Remove(userID)
}

// Reset drops every cached entry.
func (e *Evaluator) Reset() {
	e.roleCache.Purge()
	e.userCache.Purge()
}

func (e *Evaluator) activeRole(ctx context.Context, userID int64) (Role, error) {
	if role, ok := e.userCache.Get(userID); ok {
		e.metricsCache(true)
		return role, nil
	}
	e.metricsCache(false)

	v, err, _ := e.do(ctx, "user:"+strconv.FormatInt(userID, 10), func() (any, error) {
		role, err := e.source.ActiveRoleForUser(ctx, userID)
		if err != nil {
			return Role{}, err
		}
		e.userCache.Add(userID, role)
		return role, nil
	})
	if err != nil {
		return Role{}, err
	}
	return v.(Role), nil
}

func (e *Evaluator) roleGrants(ctx context.Context, roleID int64) (grantSet, error) {
	if set, ok := e.roleCache.Get(roleID); ok {
		e.metricsCache(true)
		return set, nil
	}
	e.metricsCache(false)

	v, err, _ := e.do(ctx, "role:"+strconv.FormatInt(roleID, 10), func() (any, error) {
		rows, err := e.source.RoleGrants(ctx, roleID)
		if err != nil {
			return nil, err
		}
		set := make(grantSet, len(rows))
		for _, row := range rows {
			set[row.Key] = Explicit(row.CanAccess)
		}
		e.roleCache.Add(roleID, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(grantSet), nil
}

// do runs fn through singleflight while honouring context cancellation, so
// concurrent checks for the same role trigger a single store fetch.
func (e *Evaluator) do(ctx context.Context, key string, fn func() (any, error)) (any, error, bool) {
	resultChan := e.group.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}

func (e *Evaluator) metricsDecision(allowed bool) {
	if e.metrics != nil {
		e.metrics.AuthzDecision(allowed)
	}
}

func (e *Evaluator) metricsCache(hit bool) {
	if e.metrics != nil {
		e.metrics.GrantCacheLookup(hit)
	}
}
