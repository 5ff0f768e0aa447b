package storage

import "errors"

// Sentinel errors shared by all store implementations. Services translate
// these into the API error taxonomy.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate key")
)
