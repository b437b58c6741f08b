package chat

import "errors"

// Validation errors are returned synchronously to the caller of the mutating
// operation; none of them leave partial state behind.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAParticipant      = errors.New("sender is not a participant of the conversation")
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrInvalidConversation  = errors.New("invalid conversation parameters")

	// ErrStorageUnavailable wraps any failure coming out of the backing
	// store. The core never retries; callers decide.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
