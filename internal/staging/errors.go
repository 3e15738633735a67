package staging

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations. Match with errors.Is.
var (
	// ErrLimitExceeded is returned by Add when the batch would push the
	// store past its cap. The store is left unchanged.
	ErrLimitExceeded = errors.New("staged file limit exceeded")

	// ErrIndexOutOfRange is returned by ReplaceAt and RemoveAt for a stale or
	// invalid position. It indicates a caller bug, not a user error.
	ErrIndexOutOfRange = errors.New("entry index out of range")

	// ErrPreviewUnavailable is returned when the preview capability could not
	// produce a handle. The store is left unchanged.
	ErrPreviewUnavailable = errors.New("preview unavailable")
)

// LimitError describes a rejected batch.
type LimitError struct {
	Max    int // Store cap
	Staged int // Entries already staged
	Adding int // Files in the rejected batch
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %d staged + %d new > %d", ErrLimitExceeded, e.Staged, e.Adding, e.Max)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// IndexError describes an out-of-range position.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: index %d, len %d", ErrIndexOutOfRange, e.Index, e.Len)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}
