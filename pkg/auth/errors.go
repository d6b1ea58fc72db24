package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the cluster id has no record in the directory.
	ErrNotFound = errors.New("cluster not found")
	// ErrUnauthorized covers every signature/token/secret mismatch or expiry.
	// Callers must not distinguish which check failed.
	ErrUnauthorized = errors.New("unauthorized")
)

// BannedError blocks an administratively banned cluster; the reason is
// surfaced to the caller.
type BannedError struct {
	Reason string
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("cluster banned: %s", e.Reason)
}
