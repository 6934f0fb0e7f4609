// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/tallyard/tallyard/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Store failures surface as 503 with a retry hint, never as a 403: a denied
// response must always mean the policy denied, not that the store was down.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrDuplicateName):
		Problem(w, http.StatusConflict, "Duplicate Name", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrProtectedRole):
		Problem(w, http.StatusUnprocessableEntity, "Protected Role", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrRoleInUse):
		Problem(w, http.StatusConflict, "Role In Use", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrPermissionNotFound):
		Problem(w, http.StatusBadRequest, "Unknown Permission", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrStoreUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
