package types

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned when a matrix is materialized before every unit was recorded.
var ErrIncomplete = errors.New("result matrix is incomplete")

// InvalidDimensionsError reports a grid with a non-positive row or column count.
type InvalidDimensionsError struct {
	Height int
	Width  int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid dimensions: height=%d width=%d (both must be positive)", e.Height, e.Width)
}

// DuplicateUnitError reports a second result for an already recorded unit.
type DuplicateUnitError struct {
	UnitID int
}

func (e *DuplicateUnitError) Error() string {
	return fmt.Sprintf("duplicate result for unit %d", e.UnitID)
}

// StrandedWorkerError reports a STOP about to be sent to a worker that still owes a result.
type StrandedWorkerError struct {
	WorkerID string
	UnitID   int
}

func (e *StrandedWorkerError) Error() string {
	return fmt.Sprintf("worker %s would be stopped with unit %d outstanding", e.WorkerID, e.UnitID)
}

// ChannelError reports a transport failure on one worker's channel.
type ChannelError struct {
	WorkerID string
	Op       string
	Cause    error
}

func (e *ChannelError) Error() string {
	if e.WorkerID == "" {
		return fmt.Sprintf("channel %s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("channel %s failed for worker %s: %v", e.Op, e.WorkerID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error {
	return e.Cause
}

// NewChannelError wraps cause as a ChannelError.
func NewChannelError(workerID, op string, cause error) *ChannelError {
	return &ChannelError{WorkerID: workerID, Op: op, Cause: cause}
}

// ProtocolError reports a message that violates the scheduling protocol.
type ProtocolError struct {
	WorkerID string
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation by %s: %s", e.WorkerID, e.Message)
}
