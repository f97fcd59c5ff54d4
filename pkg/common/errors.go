package common

import (
	"context"
	"errors"
	"fmt"
)

// ExtractionError reports that no fragment could be produced for a chunk.
// Timeouts and cancellation are reported the same way.
type ExtractionError struct {
	ChunkID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for chunk %s: %v", e.ChunkID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the task ran out of time.
func (e *ExtractionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// MergeConflictError is returned when an extracted entity maps onto an
// existing key of a different type and cross-type aliasing is disabled.
type MergeConflictError struct {
	Key          string
	ExistingType string
	IncomingType string
	ChunkID      string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf(
		"entity %q from chunk %s has type %q but the store holds type %q",
		e.Key, e.ChunkID, e.IncomingType, e.ExistingType,
	)
}
