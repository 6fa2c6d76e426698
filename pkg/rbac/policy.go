// Copyright 2025 Certen Protocol
//
// Package rbac holds the pure role-based access control decisions for the
// ledger engine: role ordering, the creation/revocation permission matrix,
// and the append/rollback permission rules. It never touches storage -
// callers supply role values, the policy returns a decision.

package rbac

import "github.com/certen/private-ledger/pkg/apperrors"

// Role is one of the four principal roles, ordered by privilege.
type Role string

const (
	SuperAdmin Role = "SUPER_ADMIN"
	Admin      Role = "ADMIN"
	User       Role = "USER"
	ReadOnly   Role = "READ_ONLY"
)

var privilegeOrder = map[Role]int{
	SuperAdmin: 3,
	Admin:      2,
	User:       1,
	ReadOnly:   0,
}

// IsValid reports whether r is one of the four known roles.
func IsValid(r Role) bool {
	_, ok := privilegeOrder[r]
	return ok
}

// Outranks reports whether a has strictly higher privilege than b.
func Outranks(a, b Role) bool {
	return privilegeOrder[a] > privilegeOrder[b]
}

// Op names the operations the policy can evaluate, used only for error
// context - never for dispatch.
const (
	OpCreateUser  = "createUser"
	OpRevokeUser  = "revokeUser"
	OpAppendBlock = "appendBlock"
	OpRollback    = "rollback"
)

// CanCreate reports whether caller may create a principal with target role,
// per the creation permission matrix:
//
//	caller \ target   SUPER_ADMIN  ADMIN  USER  READ_ONLY
//	SUPER_ADMIN            Y         Y      Y       Y
//	ADMIN                  N         N      Y       Y
//	USER, READ_ONLY        N         N      N       N
func CanCreate(caller, target Role) bool {
	switch caller {
	case SuperAdmin:
		return true
	case Admin:
		return target == User || target == ReadOnly
	default:
		return false
	}
}

// CheckCreate returns apperrors.ErrPermissionDenied (wrapped with role
// context) if caller may not create a principal with target role, or if
// target is not one of the four known roles.
func CheckCreate(caller, target Role) error {
	if IsValid(target) && CanCreate(caller, target) {
		return nil
	}
	return apperrors.NewPermissionDenied(string(caller), string(target), OpCreateUser)
}

// CanRevoke reports whether caller may revoke a principal currently holding
// target role. SUPER_ADMIN may revoke any role (subject to the
// last-super-admin invariant, enforced separately by ChainEngine since it
// requires a live count). ADMIN may revoke USER/READ_ONLY only.
func CanRevoke(caller, target Role) bool {
	switch caller {
	case SuperAdmin:
		return true
	case Admin:
		return target == User || target == ReadOnly
	default:
		return false
	}
}

// CheckRevoke returns apperrors.ErrPermissionDenied (wrapped with role
// context) if caller may not revoke a principal holding target role. A
// principal may never revoke one that outranks it, regardless of the
// revocation matrix in CanRevoke.
func CheckRevoke(caller, target Role) error {
	if Outranks(target, caller) {
		return apperrors.NewPermissionDenied(string(caller), string(target), OpRevokeUser)
	}
	if CanRevoke(caller, target) {
		return nil
	}
	return apperrors.NewPermissionDenied(string(caller), string(target), OpRevokeUser)
}

// CanAppend reports whether a principal with role r may append a block.
// Every role except READ_ONLY may append.
func CanAppend(r Role) bool {
	return r != ReadOnly
}

// CheckAppend returns apperrors.ErrPermissionDenied if r may not append.
func CheckAppend(r Role) error {
	if CanAppend(r) {
		return nil
	}
	return apperrors.NewPermissionDenied(string(r), "", OpAppendBlock)
}

// MaxRollbackBlocks returns the maximum number of blocks a principal with
// role r may roll back in a single call, or -1 for unbounded. A return of 0
// means the role may not roll back at all.
func MaxRollbackBlocks(r Role) int {
	switch r {
	case SuperAdmin:
		return -1
	case Admin:
		return 100
	default:
		return 0
	}
}

// CheckRollback validates that r may roll back blockCount blocks.
func CheckRollback(r Role, blockCount int) error {
	max := MaxRollbackBlocks(r)
	if max == 0 {
		return apperrors.NewPermissionDenied(string(r), "", OpRollback)
	}
	if max > 0 && blockCount > max {
		return apperrors.NewPermissionDenied(string(r), "", OpRollback)
	}
	return nil
}
