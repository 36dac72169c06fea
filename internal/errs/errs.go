// Package errs holds the sentinel errors shared by the quantizer, its store and its transports.
package errs

import "errors"

// #region sentinels
var (
	// ErrValidation marks a malformed point, alphabet or request.
	ErrValidation = errors.New("validation error")
	// ErrNotInitialized marks an operation that needs a prior Initialize.
	ErrNotInitialized = errors.New("not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize on the same index.
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrNoSuchCell marks a lookup or update against an unregistered point.
	ErrNoSuchCell = errors.New("no such cell")
	// ErrAlreadyExists marks a duplicate cell creation or split target.
	ErrAlreadyExists = errors.New("already exists")
	// ErrStore marks a persistence or cache I/O failure.
	ErrStore = errors.New("store error")
	// ErrInsufficientHistory marks a score update before the window is minimally full.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrCapacity is returned when a split would exceed the configured cell limit.
	ErrCapacity = errors.New("cell capacity reached")
)

// #endregion sentinels
