package progress

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMinutes indicates a study duration that is not a positive number of minutes.
	ErrInvalidMinutes = errors.New("progress: invalid study minutes")
	// ErrInvalidStatus indicates an unknown flashcard status label.
	ErrInvalidStatus = errors.New("progress: invalid flashcard status")
	// ErrUnknownFlashcard indicates a status update for a card the current bundle does not hold.
	ErrUnknownFlashcard = errors.New("progress: unknown flashcard")

	errMissingStorage = errors.New("storage is required")
	errMissingSource  = errors.New("snapshot source is required")
	errMissingTracker = errors.New("tracker is required")
)

// TrackerError carries an operation-scoped code alongside the underlying cause.
type TrackerError struct {
	code string
	err  error
}

func (e *TrackerError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *TrackerError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *TrackerError) Code() string {
	return e.code
}

const (
	opTrackerNew       = "progress.tracker.new"
	opAggregatorNew    = "progress.aggregator.new"
	opRecordStudyTime  = "progress.record_study_time"
	opUpdateCardStatus = "progress.update_flashcard_status"
	opLoadLog          = "progress.load_log"

	reasonMissingStorage = "missing_storage"
	reasonMissingSource  = "missing_source"
	reasonMissingTracker = "missing_tracker"
	reasonAnonymous      = "anonymous"
	reasonInvalidMinutes = "invalid_minutes"
	reasonInvalidStatus  = "invalid_status"
	reasonUnknownCard    = "unknown_flashcard"
	reasonPersistFailed  = "persist_failed"
	reasonEncodeFailed   = "encode_failed"
	reasonReadFailed     = "read_failed"
)

const maxMinutesPerSession = 24 * 60

func newTrackerError(operation, reason string, cause error) error {
	return &TrackerError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
