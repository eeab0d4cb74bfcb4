package usecase

import "errors"

// Submission-time failure taxonomy. All three are hard failures surfaced to
// the caller; write-before-publish ordering guarantees no inconsistent
// partial state is left behind.
var (
	// ErrStorageFailure means the image upload failed; nothing was persisted.
	ErrStorageFailure = errors.New("image storage failed")

	// ErrPersistenceFailure means the initial QUEUED record could not be
	// written; no work message was published.
	ErrPersistenceFailure = errors.New("status store write failed")

	// ErrEnqueueFailure means the work message could not be published; the
	// record exists but stays QUEUED until the caller retries.
	ErrEnqueueFailure = errors.New("work queue publish failed")
)
