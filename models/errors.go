package models

import "errors"

// Error taxonomy shared by the store, synchronizer and orchestrator.
// Callers classify with errors.Is; wrapped causes stay inspectable.
var (
	// ErrNotFound is terminal: the conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")

	// ErrTransient marks a retryable network or store hiccup.
	ErrTransient = errors.New("transient store error")

	// ErrValidation rejects malformed content before it reaches a pipeline.
	ErrValidation = errors.New("validation failed")

	// ErrPersistFailed aborts a pipeline after validation passed. No
	// automatic retry happens; re-submitting is the only recovery path.
	ErrPersistFailed = errors.New("persist failed")

	// ErrCompletionFailed means the provider call failed after the user
	// message was already persisted. The message stays visible unanswered.
	ErrCompletionFailed = errors.New("completion failed")

	// ErrConversationUnavailable surfaces a failed initial load to the view.
	ErrConversationUnavailable = errors.New("conversation unavailable")
)
