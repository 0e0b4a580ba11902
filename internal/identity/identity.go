// Package identity answers role questions about callers for arbitration
// authorization.
package identity

import (
	"context"

	"fraudengine/internal/platform/config"
	id "fraudengine/pkg/domain"
	strutil "fraudengine/pkg/platform/strings"
)

type Role string

const (
	RoleArbitrator Role = "arbitrator"
	// RoleSupervisor may assign cases to others and decide or close cases it
	// does not own.
	RoleSupervisor Role = "arbitration_supervisor"
	// RoleLedgerOperator may freeze, unfreeze, transfer and bulk-update tokens
	// directly on the ledger.
	RoleLedgerOperator Role = "ledger_operator"
)

// RoleDirectory is the identity service port.
type RoleDirectory interface {
	HasRole(ctx context.Context, userID id.UserID, role Role) (bool, error)
}

// StaticDirectory serves role grants loaded from configuration.
type StaticDirectory struct {
	grants map[Role]map[id.UserID]struct{}
}

// NewStaticDirectory builds a directory from configured grants. Blank and
// repeated entries are ignored; entries that are not valid user ids are
// returned as an error.
func NewStaticDirectory(grants config.RoleGrants) (*StaticDirectory, error) {
	d := &StaticDirectory{grants: map[Role]map[id.UserID]struct{}{
		RoleArbitrator:     {},
		RoleSupervisor:     {},
		RoleLedgerOperator: {},
	}}
	if err := d.add(RoleArbitrator, grants.Arbitrators); err != nil {
		return nil, err
	}
	if err := d.add(RoleSupervisor, grants.Supervisors); err != nil {
		return nil, err
	}
	if err := d.add(RoleLedgerOperator, grants.LedgerOperators); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *StaticDirectory) add(role Role, users []string) error {
	for _, raw := range strutil.DedupeAndTrimLower(users) {
		userID, err := id.ParseUserID(raw)
		if err != nil {
			return err
		}
		d.grants[role][userID] = struct{}{}
	}
	return nil
}

func (d *StaticDirectory) HasRole(_ context.Context, userID id.UserID, role Role) (bool, error) {
	_, ok := d.grants[role][userID]
	return ok, nil
}

// Grant adds a role at runtime. Used by tests and the dev seed.
func (d *StaticDirectory) Grant(userID id.UserID, role Role) {
	users, ok := d.grants[role]
	if !ok {
		users = make(map[id.UserID]struct{})
		d.grants[role] = users
	}
	users[userID] = struct{}{}
}

// AnyOf returns a check that passes when the user holds at least one of roles.
// Lookup errors stop the check.
func AnyOf(dir RoleDirectory, roles ...Role) func(ctx context.Context, userID id.UserID) (bool, error) {
	return func(ctx context.Context, userID id.UserID) (bool, error) {
		for _, role := range roles {
			ok, err := dir.HasRole(ctx, userID, role)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}
