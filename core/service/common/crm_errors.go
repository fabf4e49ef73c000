package common

import (
	"errors"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
)

// Authorize checks the role table for perm.
func Authorize(user *domain.ActingUser, perm domain.Permission) error {
	if user == nil {
		return apperr.Unauthorized("authentication required")
	}
	if !user.Can(perm) {
		return apperr.Forbidden("role " + string(user.Role) + " lacks " + string(perm)).WithDetail("permission", string(perm))
	}
	return nil
}

// StoreError translates repository sentinels into API errors.
func StoreError(op, resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, out.ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, out.ErrDuplicate):
		return apperr.AlreadyExists(resource)
	case apperr.IsAppError(err):
		return err
	default:
		return apperr.DatabaseError(op, err)
	}
}
