// Package bucket manages bucket settings and their role permission maps.
package bucket

import (
	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/metrics"
)

// Actions a permission map can grant. The "Mine" variants only apply
// when the caller owns the resource or shares its group.
const (
	PermRead       = "read"
	PermReadMine   = "readMine"
	PermCreate     = "create"
	PermUpdate     = "update"
	PermUpdateMine = "updateMine"
	PermDelete     = "delete"
	PermDeleteMine = "deleteMine"
	PermSearch     = "search"
)

// RoleAll grants a permission to every authenticated caller regardless
// of role.
const RoleAll = "all"

// RolePermissions maps a role name to the permissions it grants.
type RolePermissions map[string][]string

func (rp RolePermissions) granted(creds *auth.Credentials, perm string) bool {
	if creds == nil {
		return false
	}
	for role, perms := range rp {
		if role != RoleAll && !creds.HasRole(role) {
			continue
		}
		for _, p := range perms {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Check verifies a plain (non-resource) permission. Administrators
// always pass.
func (rp RolePermissions) Check(creds *auth.Credentials, perm string) error {
	if creds == nil {
		return errs.Unauthorized("no credentials")
	}
	if creds.IsAdmin() || rp.granted(creds, perm) {
		metrics.RecordPermissionCheck(true)
		return nil
	}
	metrics.RecordPermissionCheck(false)
	return errs.Forbidden("[%s] permission required", perm)
}

// CheckResource verifies a permission against a resource's owner and
// group. The role-level permission is evaluated first, then the
// owner/group-scoped "mine" variant.
func (rp RolePermissions) CheckResource(creds *auth.Credentials, perm, minePerm, owner, group string) error {
	if creds == nil {
		return errs.Unauthorized("no credentials")
	}
	if creds.IsAdmin() || rp.granted(creds, perm) {
		metrics.RecordPermissionCheck(true)
		return nil
	}
	if rp.granted(creds, minePerm) &&
		(creds.ID == owner || (creds.Group != "" && creds.Group == group)) {
		metrics.RecordPermissionCheck(true)
		return nil
	}
	metrics.RecordPermissionCheck(false)
	return errs.Forbidden("[%s] permission required", perm)
}

// CheckRead verifies read access on a resource.
func (rp RolePermissions) CheckRead(creds *auth.Credentials, owner, group string) error {
	return rp.CheckResource(creds, PermRead, PermReadMine, owner, group)
}

// CheckUpdate verifies update access on a resource.
func (rp RolePermissions) CheckUpdate(creds *auth.Credentials, owner, group string) error {
	return rp.CheckResource(creds, PermUpdate, PermUpdateMine, owner, group)
}

// CheckDelete verifies delete access on a resource.
func (rp RolePermissions) CheckDelete(creds *auth.Credentials, owner, group string) error {
	return rp.CheckResource(creds, PermDelete, PermDeleteMine, owner, group)
}
