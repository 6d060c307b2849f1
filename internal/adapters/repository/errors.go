package repository

import (
	"errors"

	"github.com/okian/rally/internal/domain/fault"
)

// Sentinel kinds for repository errors. Returned errors are classified with
// fault so callers may match either these or the fault sentinels.
var (
	ErrNotFound = fault.ErrNotFound
	ErrConflict = fault.ErrConflict

	ErrNilApplyFunc = errors.New("apply function is nil")
	ErrEmptyDSN     = errors.New("database dsn is empty")
)
