package records

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection indicates a collection name other than flashcards, quizzes, or notes.
	ErrUnknownCollection = errors.New("records: unknown collection")
	// ErrInvalidRecord indicates a record failed boundary validation.
	ErrInvalidRecord = errors.New("records: invalid record")
	// ErrInvalidScore indicates a quiz score that is not a finite percentage.
	ErrInvalidScore = errors.New("records: invalid score")
	// ErrAnonymous indicates a mutation attempted with no current identity. Nothing changed.
	ErrAnonymous = errors.New("records: no current identity")
	// ErrNotPersisted indicates the mutation was applied in memory but the durable write failed.
	// The in-memory state stays authoritative for the session; treat it as a warning.
	ErrNotPersisted = errors.New("records: change not persisted")
	// ErrRecordNotFound indicates no record with the requested id exists.
	ErrRecordNotFound = errors.New("records: record not found")
	// ErrStorageUnreadable indicates the durable copy could not be read. Writes for that
	// identity are refused until a read succeeds so the stored copy is never overwritten.
	ErrStorageUnreadable = errors.New("records: stored records unreadable")

	errMissingStorage    = errors.New("storage is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// StoreError carries an operation-scoped code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew        = "records.store.new"
	opLogin           = "records.login"
	opLogout          = "records.logout"
	opSaveRecords     = "records.save_records"
	opUpdateQuizStats = "records.update_quiz_stats"
	opRecordQuiz      = "records.record_quiz"
	opAddFlashcard    = "records.add_flashcard"
	opDeleteFlashcard = "records.delete_flashcard"
	opAddNote         = "records.add_note"
	opDeleteNote      = "records.delete_note"

	reasonMissingStorage     = "missing_storage"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonInvalidIdentity    = "invalid_identity"
	reasonAnonymous          = "anonymous"
	reasonUnknownCollection  = "unknown_collection"
	reasonInvalidRecord      = "invalid_record"
	reasonInvalidScore       = "invalid_score"
	reasonNotFound           = "not_found"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonPersistFailed      = "persist_failed"
	reasonEncodeFailed       = "encode_failed"
	reasonReadFailed         = "read_failed"
)

func isNotPersisted(err error) bool {
	return errors.Is(err, ErrNotPersisted)
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
