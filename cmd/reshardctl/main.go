// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Command reshardctl is an admin tool for queueing and inspecting bucket
// reshard requests against the same objstore.Client state gatewayd's
// bucket resharder worker drains.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/objstore/boltstore"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/resharder"
)

const poolReshard = "reshard"

type globalOptions struct {
	dbPath        string
	dev           bool
	reshardShards int
}

func main() {
	global := &globalOptions{}
	root := &cobra.Command{
		Use:           "reshardctl",
		Short:         "Queue and inspect bucket reshard requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.dbPath, "db", "gatewayd.db", "boltstore database path (must match gatewayd's --db)")
	root.PersistentFlags().BoolVar(&global.dev, "dev", false, "use an in-memory store; only useful against an in-process gatewayd --dev run in the same test binary")
	root.PersistentFlags().IntVar(&global.reshardShards, "reshard-queue-shards", resharder.DefaultQueueShards, "must match gatewayd's --reshard-queue-shards")

	root.AddCommand(newQueueCmd(global), newListCmd(global), newRemoveCmd(global))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(global *globalOptions) (objstore.Client, func() error, error) {
	if global.dev {
		return memstore.New(), func() error { return nil }, nil
	}
	store, err := boltstore.Open(global.dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func newQueueCmd(global *globalOptions) *cobra.Command {
	var tenant, bucket, bucketID string
	var newShards uint32

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Enqueue a reshard request for a bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" {
				return fmt.Errorf("--bucket is required")
			}
			if newShards == 0 {
				return fmt.Errorf("--new-shards must be > 0")
			}

			client, closeStore, err := openStore(global)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			ctx := context.Background()
			if bucketID == "" {
				lookup := resharder.NewObjstoreBucketIDLookup(client, poolReshard)
				bucketID, err = lookup.CurrentBucketID(ctx, tenant, bucket)
				if err != nil {
					return fmt.Errorf("resolve current bucket_id (pass --bucket-id to skip lookup): %w", err)
				}
			}

			queue := resharder.NewQueue(client, poolReshard, global.reshardShards)
			entry := resharder.QueueEntry{
				Tenant:       tenant,
				BucketName:   bucket,
				BucketID:     bucketID,
				NewNumShards: newShards,
				QueuedAt:     time.Now(),
			}
			if err := queue.Push(ctx, entry); err != nil {
				return err
			}
			fmt.Printf("queued %s/%s (bucket_id=%s) -> %d shards on logshard %d\n",
				tenant, bucket, bucketID, newShards, queue.ShardFor(tenant, bucket))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "bucket tenant (empty for the default tenant)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket name")
	cmd.Flags().StringVar(&bucketID, "bucket-id", "", "current bucket_id; looked up locally if omitted")
	cmd.Flags().Uint32Var(&newShards, "new-shards", 0, "target index shard count")
	return cmd
}

func newListCmd(global *globalOptions) *cobra.Command {
	var logshard int
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued reshard requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeStore, err := openStore(global)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			queue := resharder.NewQueue(client, poolReshard, global.reshardShards)
			ctx := context.Background()

			shards := []int{logshard}
			if all {
				shards = make([]int, queue.NumShards())
				for i := range shards {
					shards[i] = i
				}
			}

			printed := 0
			for _, shard := range shards {
				marker := ""
				for {
					entries, keys, more, err := queue.List(ctx, shard, marker, 100)
					if err != nil {
						return err
					}
					for i, e := range entries {
						fmt.Printf("logshard=%d key=%s tenant=%s bucket=%s bucket_id=%s new_shards=%d queued_at=%s\n",
							shard, keys[i], e.Tenant, e.BucketName, e.BucketID, e.NewNumShards, e.QueuedAt.Format(time.RFC3339))
						printed++
					}
					if !more || len(keys) == 0 {
						break
					}
					marker = keys[len(keys)-1]
				}
			}
			if printed == 0 {
				fmt.Println("no queued reshard requests")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&logshard, "logshard", 0, "logshard to list (ignored with --all)")
	cmd.Flags().BoolVar(&all, "all", false, "list every logshard")
	return cmd
}

func newRemoveCmd(global *globalOptions) *cobra.Command {
	var logshard int
	var key string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a queued reshard request by its logshard and key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required (see `reshardctl list`)")
			}
			client, closeStore, err := openStore(global)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			queue := resharder.NewQueue(client, poolReshard, global.reshardShards)
			if err := queue.Remove(context.Background(), logshard, key); err != nil {
				return err
			}
			fmt.Printf("removed logshard=%d key=%s\n", logshard, key)
			return nil
		},
	}
	cmd.Flags().IntVar(&logshard, "logshard", 0, "logshard the entry is on")
	cmd.Flags().StringVar(&key, "key", "", "entry key, as printed by `list`")
	return cmd
}
