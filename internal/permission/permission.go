// Package permission enforces role checks against an authenticated identity.
package permission

import (
	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/models"
)

// RequireAuthenticated fails when no identity was resolved for the request.
func RequireAuthenticated(userID uint) error {
	if userID == 0 {
		return apperr.ErrAuthenticationRequired
	}
	return nil
}

// RequireAny passes when the user holds at least one of the given
// permissions. ANY-of, not ALL-of.
func RequireAny(user *models.User, perms ...string) error {
	if user == nil {
		return apperr.ErrAuthenticationRequired
	}
	if user.HasAny(perms...) {
		return nil
	}
	return apperr.ErrPermissionDenied
}

// IsOwner reports whether the acting user owns the resource.
func IsOwner(ownerID, actorID uint) bool {
	return ownerID != 0 && ownerID == actorID
}

// CanModify is the ownership/elevation combinator used by delete paths:
//
//	owner  elevated  result
//	yes    yes       allow
//	yes    no        allow
//	no     yes       allow
//	no     no        ErrPermissionDenied
//
// Ownership alone is always enough; elevated permissions alone are always
// enough. The two are never required together.
func CanModify(user *models.User, ownerID uint, elevated ...string) error {
	if user == nil {
		return apperr.ErrAuthenticationRequired
	}
	if IsOwner(ownerID, user.ID) {
		return nil
	}
	return RequireAny(user, elevated...)
}
