package models

import "errors"

var (
	// ErrDuplicateScenario: a non-failed record with the same normalized
	// premise already exists. Rejection, not failure.
	ErrDuplicateScenario = errors.New("duplicate scenario premise")

	// ErrRecordNotFound: no record with the given id.
	ErrRecordNotFound = errors.New("scenario record not found")

	// ErrStaleStatus: the caller's expected status no longer matches the
	// stored one because another phase run got there first. The single
	// record's update is aborted, never the batch.
	ErrStaleStatus = errors.New("stale scenario status")

	// ErrIllegalTransition: the requested status change is not allowed by
	// the state machine.
	ErrIllegalTransition = errors.New("illegal status transition")
)
