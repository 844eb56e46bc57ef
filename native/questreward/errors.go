package questreward

import (
	"errors"

	nativecommon "questreward/native/common"
)

var (
	ErrUnauthorized     = errors.New("questreward: unauthorized")
	ErrInvalidArgument  = errors.New("questreward: invalid argument")
	ErrAlreadyExists    = errors.New("questreward: campaign already exists")
	ErrNotFound         = errors.New("questreward: campaign not found")
	ErrNothingToClaim   = errors.New("questreward: nothing to claim")
	ErrInsufficientPool = errors.New("questreward: insufficient pool")
	ErrTransferFailed   = errors.New("questreward: transfer failed")
	// ErrTransferPending reports a settlement that is recorded in the ledger
	// while the collaborator has not confirmed the transfer yet.
	ErrTransferPending = errors.New("questreward: transfer pending")
	ErrStateCommit     = errors.New("questreward: state commit failed")
)

// Stable, machine-readable error kinds.
const (
	KindUnauthorized     = "unauthorized"
	KindInvalidArgument  = "invalid_argument"
	KindAlreadyExists    = "already_exists"
	KindNotFound         = "not_found"
	KindNothingToClaim   = "nothing_to_claim"
	KindInsufficientPool = "insufficient_pool"
	KindTransferFailed   = "transfer_failed"
	KindTransferPending  = "transfer_pending"
	KindStateCommit      = "state_commit"
	KindModulePaused     = "module_paused"
	KindInternal         = "internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrNotFound, KindNotFound},
	{ErrNothingToClaim, KindNothingToClaim},
	{ErrInsufficientPool, KindInsufficientPool},
	{ErrStateCommit, KindStateCommit},
	{ErrTransferPending, KindTransferPending},
	{ErrTransferFailed, KindTransferFailed},
	{nativecommon.ErrModulePaused, KindModulePaused},
}

// Kind classifies err into one of the stable kinds. A nil error yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return KindInternal
}

// transferError wraps a collaborator failure so that errors.Is matches both
// ErrTransferFailed and the collaborator's own error.
type transferError struct {
	op  string
	err error
}

func (e *transferError) Error() string {
	return ErrTransferFailed.Error() + ": " + e.op + ": " + e.err.Error()
}

func (e *transferError) Unwrap() []error { return []error{ErrTransferFailed, e.err} }

func wrapTransfer(op string, err error) error {
	if err == nil {
		return nil
	}
	return &transferError{op: op, err: err}
}
