// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datasync

// BucketRef names a bucket within a zone.
type BucketRef struct {
	Zone   string
	Tenant string
	Name   string
}

// Pipe is a configured source -> destination replication relationship
// (§4.4.5, GLOSSARY "Pipe"), carrying whatever filter rules the policy
// layer resolved for this pair.
type Pipe struct {
	Source       BucketRef
	Dest         BucketRef
	PrefixFilter string
	TagFilter    map[string]string
	// Archive marks this pipe as feeding an archive zone (§4.4.10): objects
	// are never actually removed, delete-markers still propagate, the
	// destination bucket is versioned on first sync, and overwrites land
	// as a new instance rather than replacing the current one.
	Archive bool
}

// PolicyResolver enumerates the replication pipes that touch a given
// source bucket-shard, recursively expanding fan-out hints (§4.4.5 step 1).
// Implementations own the bidirectional (zone, bucket) lookup cache
// described in §9 "Cyclic references" — this package only depends on the
// interface, never a concrete handler cache, to avoid owning a reference
// cycle.
type PolicyResolver interface {
	// ResolvePipes returns every pipe whose source matches src. An empty
	// result means "nothing replicates this bucket" and is not an error
	// (§4.4.5 step 1: "Empty result -> success").
	ResolvePipes(src BucketRef) ([]Pipe, error)
}

// StaticPolicyResolver is a PolicyResolver backed by a fixed pipe list,
// sufficient for single-gateway deployments and tests.
type StaticPolicyResolver struct {
	pipes map[string][]Pipe
}

// NewStaticPolicyResolver indexes pipes by source (zone, tenant, name).
func NewStaticPolicyResolver(pipes []Pipe) *StaticPolicyResolver {
	r := &StaticPolicyResolver{pipes: map[string][]Pipe{}}
	for _, p := range pipes {
		key := bucketRefKey(p.Source)
		r.pipes[key] = append(r.pipes[key], p)
	}
	return r
}

// ResolvePipes implements PolicyResolver.
func (r *StaticPolicyResolver) ResolvePipes(src BucketRef) ([]Pipe, error) {
	return r.pipes[bucketRefKey(src)], nil
}

func bucketRefKey(b BucketRef) string {
	return b.Zone + "/" + b.Tenant + "/" + b.Name
}
