package clients

import "errors"

var (
	// ErrUnknownRole is returned when the wallet holds no key for a role.
	ErrUnknownRole = errors.New("no key loaded for role")
	// ErrSubscriptionClosed means the extrinsic watch ended before a terminal status.
	ErrSubscriptionClosed = errors.New("extrinsic subscription closed before inclusion")
	// ErrSudoKeyMissing means the buyer chain has no Sudo.Key set.
	ErrSudoKeyMissing = errors.New("sudo key not set on chain")
	// ErrBlockNotFound is returned by the block source for heights past the head.
	ErrBlockNotFound = errors.New("block not found")
)
