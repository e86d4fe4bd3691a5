// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package datalog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// BackendType discriminates which LogBackend implementation a generation
// uses — the persisted log_type discriminator (§9 "dynamic dispatch for log
// backends").
type BackendType int

// Backend type discriminators.
const (
	BackendOrderedOMap BackendType = iota
	BackendFIFO
)

// generationRecord is one entry of the persisted generation-metadata object.
type generationRecord struct {
	Gen     uint64      `json:"gen"`
	Type    BackendType `json:"type"`
	Empty   bool        `json:"empty"`
}

// GenerationsHandler receives the manager's local+peer notifications (§4.2).
type GenerationsHandler interface {
	// HandleInit is called once at startup with the generations found
	// non-empty.
	HandleInit(nonEmpty []uint64)
	// HandleNewGens is called after a new generation is added, locally or
	// by a peer via notify.
	HandleNewGens(gens []uint64)
	// HandleEmptyTo is called after EmptyTo advances the tail, with the
	// new lowest non-empty generation.
	HandleEmptyTo(newTail uint64)
}

// Generations tracks the ordered gen_id -> LogBackend mapping for one log
// (the data-change log, or a future user of the same mechanism), persisted
// as a single metadata object with CAS-protected updates (§4.2).
type Generations struct {
	client  objstore.Client
	metaRef objstore.ObjectRef
	newBackend func(gen uint64, t BackendType) LogBackend
	handler GenerationsHandler

	mu      sync.RWMutex
	records []generationRecord
	backends map[uint64]LogBackend

	watch objstore.Watch
}

// NewGenerations constructs a manager backed by metaRef, building backend
// instances via newBackend.
func NewGenerations(client objstore.Client, metaRef objstore.ObjectRef, newBackend func(gen uint64, t BackendType) LogBackend, handler GenerationsHandler) *Generations {
	return &Generations{
		client:     client,
		metaRef:    metaRef,
		newBackend: newBackend,
		handler:    handler,
		backends:   map[uint64]LogBackend{},
	}
}

// Start reads the metadata object, instantiates one backend per generation,
// calls handler.HandleInit, and installs a watch so peer changes propagate
// (§4.2 "On startup").
func (g *Generations) Start(ctx context.Context) error {
	if err := g.reload(ctx); err != nil {
		return err
	}
	watch, err := g.client.Watch(ctx, g.metaRef, g.onNotify)
	if err != nil {
		return Error.Wrap(err)
	}
	g.watch = watch

	var nonEmpty []uint64
	g.mu.RLock()
	for _, r := range g.records {
		if !r.Empty {
			nonEmpty = append(nonEmpty, r.Gen)
		}
	}
	g.mu.RUnlock()
	if g.handler != nil {
		g.handler.HandleInit(nonEmpty)
	}
	return nil
}

// Stop releases the watch.
func (g *Generations) Stop() error {
	if g.watch != nil {
		return g.watch.Close()
	}
	return nil
}

func (g *Generations) onNotify(notifyID, cookie uint64, notifierID string, payload []byte) {
	// Re-read is simpler and safer than trusting the notify payload's
	// shape. A failed re-read is dropped: the in-memory generations stay
	// as they were, and the watch is not re-established here.
	_ = g.reload(context.Background())
}

func (g *Generations) reload(ctx context.Context) error {
	raw, err := g.client.ReadBytes(ctx, g.metaRef)
	if gwerrs.Is(err, gwerrs.NotFound) {
		raw = nil
	} else if err != nil {
		return Error.Wrap(err)
	}

	var records []generationRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return Error.Wrap(err)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Gen < records[j].Gen })

	g.mu.Lock()
	oldBackends := g.backends
	g.records = records
	g.backends = map[uint64]LogBackend{}
	for _, r := range records {
		if b, ok := oldBackends[r.Gen]; ok {
			g.backends[r.Gen] = b
		} else {
			g.backends[r.Gen] = g.newBackend(r.Gen, r.Type)
		}
	}
	g.mu.Unlock()
	return nil
}

// Current returns the highest generation id and its backend.
func (g *Generations) Current() (uint64, LogBackend, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.records) == 0 {
		return 0, nil, false
	}
	last := g.records[len(g.records)-1]
	return last.Gen, g.backends[last.Gen], true
}

// Backend returns the backend for a specific generation.
func (g *Generations) Backend(gen uint64) (LogBackend, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.backends[gen]
	return b, ok
}

// NonEmpty returns the generation ids currently marked non-empty, ascending.
func (g *Generations) NonEmpty() []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []uint64
	for _, r := range g.records {
		if !r.Empty {
			out = append(out, r.Gen)
		}
	}
	return out
}

// NewBacking atomically appends a new generation of the given backend type,
// retrying on CAS conflict (§4.2 new_backing). It invokes handler.HandleNewGens
// locally and notifies peers.
func (g *Generations) NewBacking(ctx context.Context, t BackendType) (uint64, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		version, err := g.client.ObjVersion(ctx, g.metaRef)
		if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
			return 0, Error.Wrap(err)
		}
		raw, err := g.client.ReadBytes(ctx, g.metaRef)
		if gwerrs.Is(err, gwerrs.NotFound) {
			raw = nil
		} else if err != nil {
			return 0, Error.Wrap(err)
		}
		var records []generationRecord
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &records); err != nil {
				return 0, Error.Wrap(err)
			}
		}
		nextGen := uint64(0)
		if len(records) > 0 {
			nextGen = records[len(records)-1].Gen + 1
		}
		records = append(records, generationRecord{Gen: nextGen, Type: t})

		encoded, err := json.Marshal(records)
		if err != nil {
			return 0, Error.Wrap(err)
		}
		err = g.client.OperateCAS(ctx, g.metaRef, version, objstore.WriteOp{SetBytes: encoded})
		if gwerrs.Is(err, gwerrs.Canceled) {
			continue
		}
		if err != nil {
			return 0, Error.Wrap(err)
		}

		if err := g.reload(ctx); err != nil {
			return 0, err
		}
		if g.handler != nil {
			g.handler.HandleNewGens([]uint64{nextGen})
		}
		_ = g.client.Notify(ctx, g.metaRef, encoded)
		return nextGen, nil
	}
	return 0, Error.New("NewBacking: exceeded %d CAS retries", maxCASRetries)
}

// EmptyTo marks every generation with gen <= genID as empty (§4.2).
func (g *Generations) EmptyTo(ctx context.Context, genID uint64) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		version, err := g.client.ObjVersion(ctx, g.metaRef)
		if err != nil {
			return Error.Wrap(err)
		}
		raw, err := g.client.ReadBytes(ctx, g.metaRef)
		if err != nil {
			return Error.Wrap(err)
		}
		var records []generationRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return Error.Wrap(err)
		}
		for i := range records {
			if records[i].Gen <= genID {
				records[i].Empty = true
			}
		}
		encoded, err := json.Marshal(records)
		if err != nil {
			return Error.Wrap(err)
		}
		err = g.client.OperateCAS(ctx, g.metaRef, version, objstore.WriteOp{SetBytes: encoded})
		if gwerrs.Is(err, gwerrs.Canceled) {
			continue
		}
		if err != nil {
			return Error.Wrap(err)
		}
		if err := g.reload(ctx); err != nil {
			return err
		}
		newTail := uint64(0)
		for _, r := range records {
			if !r.Empty {
				newTail = r.Gen
				break
			}
		}
		if g.handler != nil {
			g.handler.HandleEmptyTo(newTail)
		}
		_ = g.client.Notify(ctx, g.metaRef, encoded)
		return nil
	}
	return Error.New("EmptyTo: exceeded %d CAS retries", maxCASRetries)
}

// RemoveEmpty trims every shard of the fully-empty leading generations up
// to their backend's MaxMarker, then drops their metadata records (§4.2
// remove_empty). The log shard objects themselves are not deleted.
func (g *Generations) RemoveEmpty(ctx context.Context, numShards int) error {
	g.mu.RLock()
	var toRemove []generationRecord
	for _, r := range g.records {
		if r.Empty {
			toRemove = append(toRemove, r)
		} else {
			break // generations are contiguous; stop at the first non-empty
		}
	}
	g.mu.RUnlock()
	if len(toRemove) == 0 {
		return nil
	}

	// At least one generation must always remain (§4.2 invariant): never
	// remove every known generation.
	g.mu.RLock()
	allEmpty := len(toRemove) == len(g.records)
	g.mu.RUnlock()
	if allEmpty {
		toRemove = toRemove[:len(toRemove)-1]
	}

	for _, r := range toRemove {
		backend, ok := g.Backend(r.Gen)
		if !ok {
			continue
		}
		for shard := 0; shard < numShards; shard++ {
			if err := backend.Trim(ctx, shard, backend.MaxMarker()); err != nil {
				return err
			}
		}
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		version, err := g.client.ObjVersion(ctx, g.metaRef)
		if err != nil {
			return Error.Wrap(err)
		}
		raw, err := g.client.ReadBytes(ctx, g.metaRef)
		if err != nil {
			return Error.Wrap(err)
		}
		var records []generationRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return Error.Wrap(err)
		}
		removeSet := map[uint64]bool{}
		for _, r := range toRemove {
			removeSet[r.Gen] = true
		}
		kept := records[:0]
		for _, r := range records {
			if !removeSet[r.Gen] {
				kept = append(kept, r)
			}
		}
		encoded, err := json.Marshal(kept)
		if err != nil {
			return Error.Wrap(err)
		}
		err = g.client.OperateCAS(ctx, g.metaRef, version, objstore.WriteOp{SetBytes: encoded})
		if gwerrs.Is(err, gwerrs.Canceled) {
			continue
		}
		if err != nil {
			return Error.Wrap(err)
		}
		return g.reload(ctx)
	}
	return Error.New("RemoveEmpty: exceeded %d CAS retries", maxCASRetries)
}
