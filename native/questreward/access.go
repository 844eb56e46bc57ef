package questreward

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// accessControl holds the identities fixed at construction. The rewarder is
// mutable and lives in State so that it survives restarts.
type accessControl struct {
	owner common.Address
	admin common.Address
}

func newAccessControl(owner, admin common.Address) (accessControl, error) {
	if owner == (common.Address{}) {
		return accessControl{}, fmt.Errorf("%w: 0x0 owner", ErrInvalidArgument)
	}
	if admin == (common.Address{}) {
		return accessControl{}, fmt.Errorf("%w: 0x0 admin", ErrInvalidArgument)
	}
	return accessControl{owner: owner, admin: admin}, nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	return requireRole(RoleOwner, caller, e.access.owner)
}

func (e *Engine) requireAdmin(caller common.Address) error {
	return requireRole(RoleAdmin, caller, e.access.admin)
}

func (e *Engine) requireRewarder(caller common.Address) error {
	rewarder, err := e.state.Rewarder()
	if err != nil {
		return err
	}
	return requireRole(RoleRewarder, caller, rewarder)
}

// The zero address never satisfies a role, so an unset rewarder locks the
// rewarder entry points until the owner assigns one.
func requireRole(role Role, caller, holder common.Address) error {
	if caller == (common.Address{}) || caller != holder {
		return fmt.Errorf("%w: %s required", ErrUnauthorized, role)
	}
	return nil
}

// Owner returns the identity allowed to rotate the rewarder.
func (e *Engine) Owner() common.Address { return e.access.owner }

// Admin returns the identity allowed to fund and withdraw campaign pools.
func (e *Engine) Admin() common.Address { return e.access.admin }

// Rewarder returns the identity allowed to create campaigns and allocate
// rewards.
func (e *Engine) Rewarder() (common.Address, error) {
	return e.state.Rewarder()
}

// SetRewarder replaces the rewarder. Only the owner may call it.
func (e *Engine) SetRewarder(caller, rewarder common.Address) (err error) {
	defer e.observe("set_rewarder", e.now(), &err)
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if rewarder == (common.Address{}) {
		return fmt.Errorf("%w: 0x0 address", ErrInvalidArgument)
	}

	e.roleMu.Lock()
	defer e.roleMu.Unlock()
	previous, err := e.state.Rewarder()
	if err != nil {
		return err
	}
	if err := e.state.Commit(&Changeset{Rewarder: &rewarder}); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCommit, err)
	}
	e.emit(newRewarderUpdatedEvent(caller, previous, rewarder))
	return nil
}
