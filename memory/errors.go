package memory

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors surfaced by the manager. Use errors.Is to classify.
var (
	// ErrValidation marks malformed metadata. Fatal to the current
	// create call, never retried.
	ErrValidation = goerr.New("invalid memory metadata")

	// ErrEmptyContent marks an attempt to embed a memory with no text.
	ErrEmptyContent = goerr.New("cannot generate embedding: content text is empty")
)
