package domain

import "errors"

var (
	// ErrFetch wraps network or schema failures while polling a target.
	ErrFetch = errors.New("fetch failed")
	// ErrCategoryNotSupported is returned when a post label is missing from the platform table.
	ErrCategoryNotSupported = errors.New("category not supported")
	// ErrTargetResolution is returned when a target id or url cannot be resolved.
	ErrTargetResolution = errors.New("target resolution failed")
	// ErrRender is returned once the rendering backend exhausted its attempts.
	ErrRender = errors.New("render failed")
	// ErrDuplicateSubscription is returned when the subscription key already exists.
	ErrDuplicateSubscription = errors.New("subscription already exists")
	// ErrIndexOutOfRange is returned by index based deletion outside [1, N].
	ErrIndexOutOfRange = errors.New("subscription index out of range")
	// ErrNotFound is returned for unknown platforms or records.
	ErrNotFound = errors.New("not found")
)
