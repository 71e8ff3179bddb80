package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the engine error taxonomy.
// Callers compare with errors.Is; wrapped variants carry context.
var (
	ErrUnknownBlockType        = errors.New("unknown block type")
	ErrUnsupportedEvent        = errors.New("unsupported event")
	ErrInvalidStepTarget       = errors.New("invalid step target")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrHashMismatch            = errors.New("chain hash mismatch")
	ErrDecryptionFailure       = errors.New("decryption failure")
	ErrPermissionDenied        = errors.New("permission denied")
)

// UnknownBlockType wraps ErrUnknownBlockType with the offending type tag.
func UnknownBlockType(blockType string) error {
	return fmt.Errorf("%w: %s", ErrUnknownBlockType, blockType)
}

// UnsupportedEvent wraps ErrUnsupportedEvent with block and event context.
func UnsupportedEvent(blockType, event string) error {
	return fmt.Errorf("%w: block type %s does not accept %s", ErrUnsupportedEvent, blockType, event)
}

// InvalidStepTarget wraps ErrInvalidStepTarget with the requested target.
func InvalidStepTarget(target string) error {
	return fmt.Errorf("%w: %s", ErrInvalidStepTarget, target)
}

// InvalidStatusTransition wraps ErrInvalidStatusTransition with both statuses.
func InvalidStatusTransition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
}

// HandlerFault is a recoverable block handler failure. The execution core
// never lets it escape a lane; it is logged and resolved by the configured
// error policy.
type HandlerFault struct {
	InstanceID uuid.UUID
	BlockID    uuid.UUID
	BlockType  string
	UserID     string
	Err        error
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("handler fault: block=%s type=%s instance=%s user=%s: %v",
		f.BlockID, f.BlockType, f.InstanceID, f.UserID, f.Err)
}

func (f *HandlerFault) Unwrap() error {
	return f.Err
}

// ValidationError is the structured batch returned when a policy tree fails
// pre-publish validation. It blocks publication entirely.
type ValidationError struct {
	Reports []BlockReport
}

// BlockReport aggregates validation errors for one block.
type BlockReport struct {
	BlockID   uuid.UUID `json:"block_id"`
	BlockType string    `json:"block_type"`
	Errors    []string  `json:"errors"`
}

func (e *ValidationError) Error() string {
	total := 0
	for _, r := range e.Reports {
		total += len(r.Errors)
	}
	return fmt.Sprintf("validation failed: %d errors across %d blocks", total, len(e.Reports))
}
