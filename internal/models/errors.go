package models

import "errors"

// Sentinel errors shared across stores and services.
var (
	ErrIdeaNotFound       = errors.New("idea not found")
	ErrTopicNotFound      = errors.New("topic not found")
	ErrDiscussionNotFound = errors.New("discussion not found")
	ErrLockHeld           = errors.New("reclustering lock is held by another holder")
	ErrLockNotHeld        = errors.New("reclustering lock is not held")
	ErrEmptyText          = errors.New("idea text is required")
	ErrMissingEmbedding   = errors.New("idea has no embedding")
	ErrDuplicateKey       = errors.New("duplicate key")
)
