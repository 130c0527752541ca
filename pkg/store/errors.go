package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a conversation or turn does not exist
// for the given owner. Ownership misses intentionally look identical.
var ErrNotFound = errors.New("conversation not found")

// StoreError wraps a persistence failure with the failing operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// isUniqueViolation detects unique-constraint errors across drivers by
// message, since database/sql exposes no portable error code.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
