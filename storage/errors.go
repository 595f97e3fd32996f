package storage

import "errors"

// Errors returned by Table operations. Errors from the SQLite engine itself
// are returned as-is and don't match any of these.
var (
	// ErrConfiguration means a KVConfig is missing a required setting.
	ErrConfiguration = errors.New("invalid storage configuration")
	// ErrTypeMismatch means a key is neither a string nor a number.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrSerialization means a value can't be converted to or from JSON.
	ErrSerialization = errors.New("can't serialize the value")
	// ErrNotFound means there is no entry for the requested key.
	ErrNotFound = errors.New("entry not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("table is already initialized")
	// ErrNameCollision means two different table names sanitize to the
	// same SQL table within one store file.
	ErrNameCollision = errors.New("table name collision")
)
