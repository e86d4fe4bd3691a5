// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Command gatewayd runs the gateway's four background engines (the
// data-change log, the incremental data sync engine, the bucket
// resharder, and the lifecycle engine) against one objstore.Client,
// fronted by a Prometheus metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rgwsync/gateway/pkg/datalog"
	"github.com/rgwsync/gateway/pkg/datasync"
	"github.com/rgwsync/gateway/pkg/gwhttp"
	"github.com/rgwsync/gateway/pkg/lce"
	"github.com/rgwsync/gateway/pkg/objstore"
	"github.com/rgwsync/gateway/pkg/objstore/boltstore"
	"github.com/rgwsync/gateway/pkg/objstore/memstore"
	"github.com/rgwsync/gateway/pkg/resharder"
)

const (
	poolDatalog     = "datalog"
	poolDatasync    = "datasync"
	poolReshard     = "reshard"
	poolLifecycle   = "lifecycle"
	maxFIFOPartSize = 10000
)

// remoteZoneConfig names one peer gateway this zone replicates from.
type remoteZoneConfig struct {
	Zone      string `json:"zone"`
	AdminAddr string `json:"admin_addr"`
}

// pipeConfig is one configured replication relationship, the JSON shape of
// a datasync.Pipe.
type pipeConfig struct {
	SourceZone   string            `json:"source_zone"`
	SourceTenant string            `json:"source_tenant"`
	SourceBucket string            `json:"source_bucket"`
	DestZone     string            `json:"dest_zone"`
	DestTenant   string            `json:"dest_tenant"`
	DestBucket   string            `json:"dest_bucket"`
	PrefixFilter string            `json:"prefix_filter"`
	TagFilter    map[string]string `json:"tag_filter"`
	Archive      bool              `json:"archive"`
}

// fileConfig is the on-disk --config document. Flags set the operational
// knobs; this file carries the things that vary per deployment topology
// (peer zones and replication pipes) and are too structured for flags.
type fileConfig struct {
	RemoteZones []remoteZoneConfig `json:"remote_zones"`
	Pipes       []pipeConfig       `json:"pipes"`
}

type options struct {
	dbPath           string
	configPath       string
	zone             string
	metricsAddr      string
	numDataLogShards int
	numReshardShards int
	numLCEShards     int
	lceMaxWorkers    int
	lceWorkWindow    string
	lceDebugInterval time.Duration
	dev              bool
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "Runs the DCL, IDSE, bucket resharder, and lifecycle engines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.dbPath, "db", "gatewayd.db", "boltstore database path")
	flags.StringVar(&opts.configPath, "config", "", "path to a JSON file listing remote zones and replication pipes")
	flags.StringVar(&opts.zone, "zone", "default", "this gateway's zone name")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	flags.IntVar(&opts.numDataLogShards, "data-log-shards", 64, "number of data-change log shards")
	flags.IntVar(&opts.numReshardShards, "reshard-queue-shards", resharder.DefaultQueueShards, "number of reshard queue logshards")
	flags.IntVar(&opts.numLCEShards, "lifecycle-shards", lce.DefaultShards, "number of lifecycle queue shards")
	flags.IntVar(&opts.lceMaxWorkers, "lifecycle-max-workers", 8, "bounded concurrency for lifecycle object processing")
	flags.StringVar(&opts.lceWorkWindow, "lifecycle-work-window", "00:00-06:00", "daily HH:MM-HH:MM lifecycle wake window")
	flags.DurationVar(&opts.lceDebugInterval, "lifecycle-debug-interval", 0, "override the lifecycle day/window math for testing, e.g. 10s")
	flags.BoolVar(&opts.dev, "dev", false, "use an in-memory store instead of --db; state does not survive a restart")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		logFatal(err)
	}
}

func logFatal(err error) {
	logger, _ := zap.NewProduction()
	if logger == nil {
		os.Exit(1)
	}
	logger.Fatal("gatewayd exited", zap.Error(err))
}

func run(ctx context.Context, opts *options) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	cfg, err := loadFileConfig(opts.configPath)
	if err != nil {
		return err
	}

	workWindow, err := lce.ParseWorkWindow(opts.lceWorkWindow)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	changeLog, generations, err := startDataChangeLog(ctx, client, opts, logger)
	if err != nil {
		return err
	}
	group.Go(func() error { return changeLog.RunRenewalLoop(ctx) })
	group.Go(func() error { return runGenerationTrimLoop(ctx, generations, opts.numDataLogShards, logger) })

	startResharder(ctx, group, client, changeLog, opts, logger)
	startLifecycle(ctx, group, client, opts, workWindow, logger)
	startDataSync(ctx, group, client, changeLog, cfg, opts, logger)

	group.Go(func() error { return serveMetrics(ctx, opts.metricsAddr) })

	return group.Wait()
}

func openStore(opts *options) (objstore.Client, func() error, error) {
	if opts.dev {
		return memstore.New(), func() error { return nil }, nil
	}
	store, err := boltstore.Open(opts.dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	var cfg fileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}

func startDataChangeLog(ctx context.Context, client objstore.Client, opts *options, logger *zap.Logger) (*datalog.ChangeLog, *datalog.Generations, error) {
	metaRef := objstore.ObjectRef{Pool: poolDatalog, OID: "generations"}
	newBackend := datalog.NewBackendFactory(client, poolDatalog, "dcl", maxFIFOPartSize)
	generations := datalog.NewGenerations(client, metaRef, newBackend, datalog.LoggingGenerationsHandler{Log: logger})
	if err := generations.Start(ctx); err != nil {
		return nil, nil, err
	}
	if _, _, ok := generations.Current(); !ok {
		if _, err := generations.NewBacking(ctx, datalog.BackendOrderedOMap); err != nil {
			return nil, nil, err
		}
	}

	changeLog, err := datalog.NewChangeLog(client, generations, opts.numDataLogShards, datalog.DefaultWindow, 4096, logger)
	if err != nil {
		return nil, nil, err
	}
	return changeLog, generations, nil
}

// runGenerationTrimLoop periodically advances the DCL's empty-generation
// tail, the maintenance half of §4.2 that nothing else in this process
// otherwise triggers.
func runGenerationTrimLoop(ctx context.Context, generations *datalog.Generations, numShards int, logger *zap.Logger) error {
	const interval = time.Hour
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := generations.RemoveEmpty(ctx, numShards); err != nil {
				logger.Warn("generation trim failed", zap.Error(err))
			}
			timer.Reset(interval)
		}
	}
}

func startResharder(ctx context.Context, group *errgroup.Group, client objstore.Client, changeLog *datalog.ChangeLog, opts *options, logger *zap.Logger) {
	layouts := resharder.NewLayoutStore(client, poolReshard)
	shards := resharder.NewObjstoreShardStore(client, poolReshard)
	retired := resharder.DatalogNotifier{Log: changeLog}
	br := resharder.NewBucketResharder(client, poolReshard, layouts, shards, resharder.NoFaults{}, retired, logger)

	lookup := resharder.NewObjstoreBucketIDLookup(client, poolReshard)
	queue := resharder.NewQueue(client, poolReshard, opts.numReshardShards)
	worker := resharder.NewWorker(client, poolReshard, queue, br, lookup, logger)

	for i := 0; i < queue.NumShards(); i++ {
		logshard := i
		group.Go(func() error { return worker.RunLogshard(ctx, logshard) })
	}
}

func startLifecycle(ctx context.Context, group *errgroup.Group, client objstore.Client, opts *options, window lce.WorkWindow, logger *zap.Logger) {
	policies := lce.NewObjstorePolicyStore(client, poolLifecycle)
	binder := lce.NewObjstoreBucketBinder(client, poolLifecycle)
	queue := lce.NewQueue(client, poolLifecycle, opts.numLCEShards)
	engine := lce.NewEngine(client, poolLifecycle, queue, policies, binder, opts.lceMaxWorkers, window, opts.lceDebugInterval, logger)

	group.Go(func() error { return runLifecycleLoop(ctx, engine, window, opts.lceDebugInterval, logger) })
}

// runLifecycleLoop wakes at each day's scheduled window (or every
// debugInterval, when set) and runs one full sweep, the §4.6 "Scheduling"
// loop shape.
func runLifecycleLoop(ctx context.Context, engine *lce.Engine, window lce.WorkWindow, debugInterval time.Duration, logger *zap.Logger) error {
	for {
		wake := lce.NextWakeup(time.Now(), window, debugInterval)
		timer := time.NewTimer(time.Until(wake))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := engine.RunSweep(ctx); err != nil {
			logger.Warn("lifecycle sweep failed", zap.Error(err))
		}
	}
}

func startDataSync(ctx context.Context, group *errgroup.Group, client objstore.Client, changeLog *datalog.ChangeLog, cfg fileConfig, opts *options, logger *zap.Logger) {
	if len(cfg.RemoteZones) == 0 {
		return
	}

	pipesBySourceZone := map[string][]datasync.Pipe{}
	for _, p := range cfg.Pipes {
		pipe := datasync.Pipe{
			Source:       datasync.BucketRef{Zone: p.SourceZone, Tenant: p.SourceTenant, Name: p.SourceBucket},
			Dest:         datasync.BucketRef{Zone: p.DestZone, Tenant: p.DestTenant, Name: p.DestBucket},
			PrefixFilter: p.PrefixFilter,
			TagFilter:    p.TagFilter,
			Archive:      p.Archive,
		}
		pipesBySourceZone[p.SourceZone] = append(pipesBySourceZone[p.SourceZone], pipe)
	}

	for _, zoneCfg := range cfg.RemoteZones {
		zoneCfg := zoneCfg
		admin := gwhttp.NewClient(zoneCfg.AdminAddr, nil)
		resolver := datasync.NewStaticPolicyResolver(pipesBySourceZone[zoneCfg.Zone])

		fetcher := datasync.NewDataObjectFetcher(client, poolDatasync, admin)
		versioning := datasync.NewObjstoreVersioningEnabler(client, poolDatasync)
		archiveFetcher := datasync.NewArchiveObjectFetcher(fetcher, versioning)

		tracker := datasync.NewMarkerTracker(10, func(marker string, pos int64, timestamp time.Time) {
			logger.Debug("bucket-index marker advanced", zap.String("zone", zoneCfg.Zone), zap.String("marker", marker))
		})
		syncer := datasync.NewBucketSyncer(client, poolDatasync, admin, fetcher, tracker, logger)
		syncer.WithArchiveFetcher(archiveFetcher)

		coordinator := datasync.NewCoordinator(client, poolDatasync, zoneCfg.Zone, admin, resolver, syncer, logger)

		group.Go(func() error {
			if err := bootstrapIfNeeded(ctx, coordinator, opts.numDataLogShards, logger); err != nil {
				return err
			}
			shardGroup, shardCtx := errgroup.WithContext(ctx)
			for shard := 0; shard < opts.numDataLogShards; shard++ {
				shard := shard
				shardGroup.Go(func() error { return coordinator.RunShardController(shardCtx, shard) })
			}
			return shardGroup.Wait()
		})
	}
}

// bootstrapIfNeeded runs the §4.4.1/§4.4.2 setup for a source zone on
// every start. Bootstrap does not consult the sync-info state a previous
// run persisted: each start resets every shard marker to full sync at the
// remote's current heads, and BuildFullSyncMaps rebuilds the full-sync
// index.
func bootstrapIfNeeded(ctx context.Context, coordinator *datasync.Coordinator, numLogShards int, logger *zap.Logger) error {
	if err := coordinator.Bootstrap(ctx); err != nil {
		return err
	}
	logger.Info("data sync bootstrap complete, building full-sync maps")
	return coordinator.BuildFullSyncMaps(ctx, numLogShards)
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
