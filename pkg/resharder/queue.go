// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package resharder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rgwsync/gateway/pkg/gwerrs"
	"github.com/rgwsync/gateway/pkg/objstore"
)

// DefaultQueueShards is rgw_reshard_num_logs' default (§4.5 "Reshard queue").
const DefaultQueueShards = 16

// maxQueueCASRetries bounds the counter-allocation CAS loop in Push, the
// same cap every other CAS loop in this module uses (§7).
const maxQueueCASRetries = 10

// QueueEntry is one pending reshard request (§4.5 "Reshard queue").
type QueueEntry struct {
	Tenant       string
	BucketName   string
	BucketID     string
	NewNumShards uint32
	QueuedAt     time.Time
}

// Queue is the persistent, logshard-partitioned reshard queue: entries are
// hashed to one of NumShards shards by (tenant, bucket_name), each shard
// ordered FIFO by queue position (§4.5).
type Queue struct {
	client    objstore.Client
	pool      string
	numShards int
}

// NewQueue returns a queue with numShards logshards (use DefaultQueueShards
// unless overridden).
func NewQueue(client objstore.Client, pool string, numShards int) *Queue {
	if numShards <= 0 {
		numShards = DefaultQueueShards
	}
	return &Queue{client: client, pool: pool, numShards: numShards}
}

// NumShards returns the queue's logshard count.
func (q *Queue) NumShards() int {
	return q.numShards
}

// ShardFor returns the logshard (tenant, bucketName) hashes to.
func (q *Queue) ShardFor(tenant, bucketName string) int {
	return int(fnv32(tenant+"/"+bucketName) % uint32(q.numShards))
}

func (q *Queue) shardRef(logshard int) objstore.ObjectRef {
	return objstore.ObjectRef{Pool: q.pool, OID: fmt.Sprintf("reshard.queue.%d", logshard)}
}

type queueValue struct {
	Tenant       string    `json:"tenant"`
	BucketName   string    `json:"bucket_name"`
	BucketID     string    `json:"bucket_id"`
	NewNumShards uint32    `json:"new_num_shards"`
	QueuedAt     time.Time `json:"queued_at"`
}

// Push enqueues entry on its hashed logshard.
func (q *Queue) Push(ctx context.Context, entry QueueEntry) error {
	logshard := q.ShardFor(entry.Tenant, entry.BucketName)
	ref := q.shardRef(logshard)
	value, err := json.Marshal(queueValue{
		Tenant:       entry.Tenant,
		BucketName:   entry.BucketName,
		BucketID:     entry.BucketID,
		NewNumShards: entry.NewNumShards,
		QueuedAt:     entry.QueuedAt,
	})
	if err != nil {
		return Error.Wrap(err)
	}

	for attempt := 0; attempt < maxQueueCASRetries; attempt++ {
		version, err := q.client.ObjVersion(ctx, ref)
		if err != nil && !gwerrs.Is(err, gwerrs.NotFound) {
			return Error.Wrap(err)
		}
		counter, err := q.readCounter(ctx, ref)
		if err != nil {
			return Error.Wrap(err)
		}
		next := counter + 1
		key := fmt.Sprintf("%016d", next)

		err = q.client.OperateCAS(ctx, ref, version, objstore.WriteOp{
			AppendOMap: []objstore.OMapEntry{{Key: key, Value: value}},
			SetAttr:    map[string][]byte{"seq": []byte(fmt.Sprintf("%d", next))},
		})
		if err == nil {
			return nil
		}
		if !gwerrs.Is(err, gwerrs.Canceled) {
			return Error.Wrap(err)
		}
	}
	return Error.New("push: exceeded %d CAS retries on logshard %d", maxQueueCASRetries, logshard)
}

func (q *Queue) readCounter(ctx context.Context, ref objstore.ObjectRef) (uint64, error) {
	raw, err := q.client.GetAttr(ctx, ref, "seq")
	if gwerrs.Is(err, gwerrs.NotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Peek returns the oldest queued entry on logshard, if any, without
// removing it.
func (q *Queue) Peek(ctx context.Context, logshard int) (entry QueueEntry, key string, found bool, err error) {
	entries, _, err := q.client.ListOMap(ctx, q.shardRef(logshard), objstore.OMapRange{}, 1)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return QueueEntry{}, "", false, nil
	}
	if err != nil {
		return QueueEntry{}, "", false, Error.Wrap(err)
	}
	if len(entries) == 0 {
		return QueueEntry{}, "", false, nil
	}
	var v queueValue
	if err := json.Unmarshal(entries[0].Value, &v); err != nil {
		return QueueEntry{}, "", false, Error.Wrap(err)
	}
	return QueueEntry{
		Tenant:       v.Tenant,
		BucketName:   v.BucketName,
		BucketID:     v.BucketID,
		NewNumShards: v.NewNumShards,
		QueuedAt:     v.QueuedAt,
	}, entries[0].Key, true, nil
}

// List returns up to max queued entries on logshard starting at marker, for
// admin inspection (reshardctl). Unlike Peek it does not imply removal
// order guarantees beyond the omap's own key ordering.
func (q *Queue) List(ctx context.Context, logshard int, marker string, max int) (entries []QueueEntry, keys []string, more bool, err error) {
	raw, more, err := q.client.ListOMap(ctx, q.shardRef(logshard), objstore.OMapRange{Start: marker}, max)
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, Error.Wrap(err)
	}
	for _, e := range raw {
		var v queueValue
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, nil, false, Error.Wrap(err)
		}
		entries = append(entries, QueueEntry{
			Tenant:       v.Tenant,
			BucketName:   v.BucketName,
			BucketID:     v.BucketID,
			NewNumShards: v.NewNumShards,
			QueuedAt:     v.QueuedAt,
		})
		keys = append(keys, e.Key)
	}
	return entries, keys, more, nil
}

// Remove deletes the entry at key on logshard. Idempotent: removing an
// already-absent entry is success (§4.5 "queue removal is idempotent").
func (q *Queue) Remove(ctx context.Context, logshard int, key string) error {
	err := q.client.Operate(ctx, q.shardRef(logshard), objstore.WriteOp{
		RemoveOMapRange: &objstore.OMapRange{Start: key, End: key + "\x00"},
	})
	if gwerrs.Is(err, gwerrs.NotFound) {
		return nil
	}
	return Error.Wrap(err)
}
