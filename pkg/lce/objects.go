// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lce

import (
	"context"
	"time"
)

// ObjectEntry is one listed object in the non-versioned path.
type ObjectEntry struct {
	Key            string
	Instance       string // "" for a plain (non-versioned) object
	IsCurrent      bool
	IsDeleteMarker bool
	MTime          time.Time
	Tags           map[string]string
}

// MultipartEntry is one in-progress multipart upload's ".meta" object.
type MultipartEntry struct {
	Key      string // the upload's target object key
	UploadID string
	MTime    time.Time
}

// ObjectLister lists a bucket's contents the three ways bucket_lc_process
// needs (§4.6): plain listing, version listing, and the MULTIPART namespace.
type ObjectLister interface {
	// ListObjects pages plain (non-versioned) objects under prefix.
	ListObjects(ctx context.Context, bucket, prefix, marker string, max int) (entries []ObjectEntry, next string, truncated bool, err error)
	// ListVersions pages every version under prefix, newest-first within
	// each key so the entry immediately after a current version is its
	// next-older non-current version (§4.6 "Versioned path").
	ListVersions(ctx context.Context, bucket, prefix, marker string, max int) (entries []ObjectEntry, next string, truncated bool, err error)
	// ListMultipartUploads pages in-progress uploads under prefix.
	ListMultipartUploads(ctx context.Context, bucket, prefix, marker string, max int) (entries []MultipartEntry, next string, truncated bool, err error)
}

// ObjectDeleter performs the mutating half of expiration processing: a
// fresh metadata re-read (to catch a race against a concurrent write,
// §4.6 "re-read object state — skip if mtime changed"), delete, and marker
// creation.
type ObjectDeleter interface {
	// StatObject re-reads object/instance's current mtime/tags, the
	// "re-read the object's ACL/tags" and "re-read object state" checks
	// bucket_lc_process performs before and after expiration evaluation.
	StatObject(ctx context.Context, bucket, key, instance string) (ObjectEntry, error)
	// DeleteObject removes object/instance. removeIndeed distinguishes a
	// hard delete (non-current versions) from an OLH unlink that would
	// normally leave a delete-marker (current versions).
	DeleteObject(ctx context.Context, bucket, key, instance string, removeIndeed bool) error
	// CreateDeleteMarker writes a delete-marker for key (current-version
	// expiration).
	CreateDeleteMarker(ctx context.Context, bucket, key string) error
	// AbortMultipartUpload cancels an in-progress upload.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}

// PolicyStore resolves a bucket's lifecycle configuration.
type PolicyStore interface {
	GetPolicy(ctx context.Context, bucket string) (Policy, error)
}
