package ledger

import "errors"

var (
	// ErrRunNotFound indicates the run has no phase records.
	ErrRunNotFound = errors.New("run not found")
)
