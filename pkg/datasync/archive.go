// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

import (
	"context"

	"github.com/google/uuid"
)

// BucketVersioningEnabler flips a destination bucket into versioned mode.
// Implemented by whatever owns local bucket metadata; archive pipes call
// this once, the first time they sync into a non-versioned destination
// (§4.4.10 (c)).
type BucketVersioningEnabler interface {
	EnableVersioning(ctx context.Context, dest BucketRef) error
	IsVersioned(ctx context.Context, dest BucketRef) (bool, error)
}

// ArchiveObjectFetcher wraps an ObjectFetcher with the archive-zone
// overrides from §4.4.10: deletes no-op instead of removing objects,
// delete-markers still propagate untouched, and overwrites land under a
// freshly minted instance id rather than replacing the current one.
type ArchiveObjectFetcher struct {
	inner      ObjectFetcher
	versioning BucketVersioningEnabler
	ensured    map[string]bool
}

// NewArchiveObjectFetcher wraps inner for use on archive pipes.
func NewArchiveObjectFetcher(inner ObjectFetcher, versioning BucketVersioningEnabler) *ArchiveObjectFetcher {
	return &ArchiveObjectFetcher{
		inner:      inner,
		versioning: versioning,
		ensured:    map[string]bool{},
	}
}

// FetchObject ensures the destination bucket is versioned, then replicates
// the object under a new instance id so an overwrite never clobbers the
// prior archived instance (§4.4.10 (c), (d)).
func (a *ArchiveObjectFetcher) FetchObject(ctx context.Context, pipe Pipe, object, instance string) error {
	if err := a.ensureVersioned(ctx, pipe.Dest); err != nil {
		return err
	}
	archivedInstance := instance
	if archivedInstance == "" {
		archivedInstance = uuid.New().String()
	}
	return a.inner.FetchObject(ctx, pipe, object, archivedInstance)
}

// DeleteObject never removes an object in an archive zone (§4.4.10 (a)).
func (a *ArchiveObjectFetcher) DeleteObject(ctx context.Context, pipe Pipe, object, instance string) error {
	return nil
}

// CreateDeleteMarker still propagates delete-markers (§4.4.10 (b)).
func (a *ArchiveObjectFetcher) CreateDeleteMarker(ctx context.Context, pipe Pipe, object, instance string) error {
	if err := a.ensureVersioned(ctx, pipe.Dest); err != nil {
		return err
	}
	return a.inner.CreateDeleteMarker(ctx, pipe, object, instance)
}

func (a *ArchiveObjectFetcher) ensureVersioned(ctx context.Context, dest BucketRef) error {
	if a.versioning == nil {
		return nil
	}
	key := bucketRefKey(dest)
	if a.ensured[key] {
		return nil
	}
	versioned, err := a.versioning.IsVersioned(ctx, dest)
	if err != nil {
		return err
	}
	if !versioned {
		if err := a.versioning.EnableVersioning(ctx, dest); err != nil {
			return err
		}
	}
	a.ensured[key] = true
	return nil
}

// FetcherFor picks the archive-aware fetcher for archive pipes, and the
// plain fetcher otherwise, so BucketSyncer's dispatch stays oblivious to
// the zone type (§4.4.10 applies uniformly to every op in §4.4.9).
func FetcherFor(pipe Pipe, plain ObjectFetcher, archive *ArchiveObjectFetcher) ObjectFetcher {
	if pipe.Archive && archive != nil {
		return archive
	}
	return plain
}
