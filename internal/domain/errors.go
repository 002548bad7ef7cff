package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSchema           = errors.New("schema mismatch")
	ErrOddRecordCount   = errors.New("odd record count")
	ErrMispairedFixture = errors.New("mispaired fixture")
	ErrMisaligned       = errors.New("fixture sequences misaligned")
	ErrEmptyInput       = errors.New("empty input table")
	ErrLockHeld         = errors.New("lock already held")
)
