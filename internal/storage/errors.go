package storage

import "errors"

// Sentinels returned by every PairRegistry and OrderStore backend.
// Callers match them with errors.Is.
var (
	// ErrNotFound: no pair or open order matches the key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey: a pair ID, pair symbol or order ID is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput: the record failed validation or references a missing pair.
	ErrInvalidInput = errors.New("invalid input")
)
