package library

import "errors"

var (
	// ErrNotFound is returned when the addressed mapping or playlist does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the addressed item.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicateBVID is returned when a mapping already exists for the video.
	ErrDuplicateBVID = errors.New("video already mapped")
	// ErrInvalidAction is returned for an unknown playlist song action.
	ErrInvalidAction = errors.New("invalid action")
	// ErrTooManySongs is returned when a playlist would exceed its song quota.
	ErrTooManySongs = errors.New("playlist song limit exceeded")

	errBVIDRequired   = errors.New("bvid is required")
	errNameRequired   = errors.New("name is required")
	errOwnerRequired  = errors.New("owner uid is required")
	errFieldsRequired = errors.New("songName, artist and neteasecloudId are required")
	errNothingAdded   = errors.New("nothing added")
)
