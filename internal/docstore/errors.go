package docstore

import "errors"

var (
	// ErrInvalidKey is returned for keys that are empty or resolve outside the
	// store directory.
	ErrInvalidKey = errors.New("invalid document key")
	// ErrBusy is returned when a key lock could not be acquired within
	// Options.LockTimeout.
	ErrBusy = errors.New("document is busy")
	// ErrWriteFailed wraps every encode or I/O failure of a save.
	ErrWriteFailed = errors.New("failed to write document")
	// ErrCorrupt is returned by LoadStrict when a document exists but does not
	// decode.
	ErrCorrupt = errors.New("document does not decode")
)
