package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tallyard/tallyard/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers. The guard is
// never the only enforcement point: handlers performing protected actions
// re-evaluate through the same evaluator.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// Require ensures the current user holds the (menu, submenu, action)
// permission. Requests without a valid session get 401; a policy deny and an
// evaluation failure both answer 403, with the failure logged for operators.
func (m Middleware) Require(menu, submenu string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			allowed, err := m.Evaluator.HasPermission(r.Context(), userID, menu, submenu, action)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac guard evaluate",
						slog.Int64("user_id", userID),
						slog.String("key", Key{Menu: menu, Submenu: submenu, Action: action}.String()),
						slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

// CurrentUserID exposes the session user resolution to handlers that need
// the acting user for auditing.
func CurrentUserID(r *http.Request) (int64, bool) {
	return Middleware{}.currentUserID(r)
}
