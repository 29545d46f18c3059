// Package core provides the evaluation dataset model and shared errors for embedtune.
package core

import "errors"

// Sentinel errors for dataset and evaluation operations.
var (
	ErrEmptyCorpus     = errors.New("corpus is empty")
	ErrMissingRelevant = errors.New("query has no relevant document")
	ErrInvalidTopK     = errors.New("top_k must be positive")
	ErrInvalidDataset  = errors.New("invalid dataset")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// ValidationError carries field-level validation context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrInvalidConfig for configuration fields.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
