package search

import "fmt"

// SearchError wraps a retrieval failure with the operation that failed.
type SearchError struct {
	Op  string
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
