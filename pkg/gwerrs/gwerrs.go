// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gwerrs models the error taxonomy of §6.4/§7: the small set of
// conditions every engine must recognize and treat uniformly, independent of
// which package raised them. Sentinel errors are plain values so
// errors.Is(err, gwerrs.NotFound) keeps working after a caller wraps them in
// its own errs.Class.
package gwerrs

import (
	"errors"

	"github.com/zeebo/errs"
)

// Sentinel conditions, §6.4.
var (
	// NotFound means the key was never created or has been trimmed.
	// Never fatal; callers treat it as "nothing to do".
	NotFound = errors.New("not found")

	// Busy means lease contention; retry with bounded backoff.
	Busy = errors.New("busy")

	// Canceled means an optimistic-concurrency CAS failure or a stale
	// identity mismatch; re-read and retry up to a cap.
	Canceled = errors.New("canceled")

	// PreconditionFailed means the source-side policy or object changed
	// under the caller; skip the operation.
	PreconditionFailed = errors.New("precondition failed")

	// PermissionDenied means authorization failed on the peer; swallowed
	// at the per-entry level, never written to a retry/error repo. No
	// count of these errors is kept.
	PermissionDenied = errors.New("permission denied")

	// Transport means an HTTP/socket error; written to an error repo when
	// a timestamp is available, and retried on the next poll cycle. No
	// count of these errors is kept.
	Transport = errors.New("transport error")

	// Again asks the caller to retry later (EAGAIN-equivalent).
	Again = errors.New("try again")
)

// Is reports whether err (possibly wrapped through any errs.Class) is the
// sentinel condition.
func Is(err error, sentinel error) bool {
	return errors.Is(err, sentinel)
}

// IsFatal reports whether err is anything other than the recognized,
// recoverable §6.4 conditions — i.e. it should propagate to the shard
// worker and trigger a backoff-restart of just that shard (§7 "Fatal").
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case Is(err, NotFound), Is(err, Busy), Is(err, Canceled),
		Is(err, PreconditionFailed), Is(err, PermissionDenied),
		Is(err, Transport), Is(err, Again):
		return false
	default:
		return true
	}
}

// ShouldRepo reports whether a failed sync obligation should be persisted to
// an error-repo for later retry (§4.4.4, §4.4.9): Transport errors and plain
// Fatal errors are repo'd; NotFound/PermissionDenied/PreconditionFailed are
// swallowed; Busy/Again/Canceled are retried in-place by their own caller and
// never reach the repo.
func ShouldRepo(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, NotFound) || Is(err, PermissionDenied) || Is(err, PreconditionFailed) {
		return false
	}
	if Is(err, Busy) || Is(err, Again) || Is(err, Canceled) {
		return false
	}
	return true
}

// Wrap attaches class to err, preserving sentinel identity for errors.Is.
func Wrap(class *errs.Class, err error) error {
	if err == nil {
		return nil
	}
	return class.Wrap(err)
}
