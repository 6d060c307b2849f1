package scoring

import "errors"

// Sentinel kinds for scoring errors.
var (
	// ErrZeroMembership means a check-in author has no recorded memberships,
	// which breaks the invariant that authors are members of their team.
	ErrZeroMembership = errors.New("check-in author has no memberships")
)
