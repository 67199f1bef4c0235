package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sync/atomic"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/pkg/sys"

	"main/internal/bus"
	"main/internal/engine"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/retention"
	"main/internal/schema"
	"main/internal/signal"
	"main/internal/state"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	checkpointPath := flag.String("checkpoint-path", "", "Checkpoint output (overrides config)")
	recoverEnabled := flag.Bool("recover", true, "Recover state from checkpoint + ledger replay")
	pyroscopeAddr := flag.String("pyroscope-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	runtime := newRuntimeConfig(loaded)
	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload, runtime.Update)
	}
	if *checkpointPath != "" {
		loaded.Checkpoint.Path = *checkpointPath
	}

	if loaded.Features.EnableProfiler {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "analyticd",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	store, err := ledger.NewStore(loaded.Ledger)
	if err != nil {
		log.Fatalf("ledger open failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("ledger close failed: %v", err)
		}
	}()

	recoverCfg := state.RecoverConfig{
		Ledger:    store,
		Positions: loaded.Positions,
		Rolling:   loaded.Rolling,
	}
	if *recoverEnabled {
		recoverCfg.CheckpointPath = loaded.Checkpoint.Path
	}
	result, err := state.Recover(ctx, recoverCfg)
	if err != nil {
		log.Fatalf("recover failed: %v", err)
	}
	log.Printf("recovered: positions=%d replayed=%d last_seq=%d",
		len(result.Positions.All()), result.Replayed, result.LastSeq)

	metrics := obs.NewMetrics()
	eng, err := engine.New(engine.Config{
		Workers:          loaded.Engine.Workers,
		QueueCapacity:    loaded.Engine.QueueCapacity,
		ReorderWindow:    loaded.Engine.ReorderWindow,
		SubscriberBuffer: loaded.Engine.SubscriberBuffer,
		MarkToMarket:     loaded.Features.EnableMarkToMarket,
	}, engine.Deps{
		Registry:  loaded.Registry,
		Positions: result.Positions,
		Rollups:   result.Rollup,
		Windows:   result.Rolling,
		Signals:   signal.NewService(loaded.Signal, loaded.Registry.Symbols()),
		Hub:       bus.NewHub(),
		Ledger:    store,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	eng.RestoreClock(result.LastSeq, result.LastTradeTs)
	eng.Start(ctx)

	if loaded.Features.EnableRetention {
		sweep := func(ctx context.Context, cutoffTs int64, cutoffDate schema.Date) (int64, error) {
			result.Rollup.EvictBefore(cutoffDate)
			return store.PruneBefore(ctx, cutoffTs, cutoffDate)
		}
		// Each sweep re-reads the hot-reloaded config for its policy.
		policy := func() retention.Policy { return runtime.Load().Retention.Policy }
		sweeper := retention.NewSweeper(policy, loaded.Retention.SweepInterval, sweep)
		go sweeper.Run(ctx)
	}
	if loaded.Checkpoint.Path != "" && loaded.Checkpoint.Interval > 0 {
		go eng.RunCheckpoints(ctx, loaded.Checkpoint.Path, loaded.Checkpoint.Interval)
	}

	<-sys.Shutdown()
	log.Printf("shutting down")
	eng.Close()
	cancel()

	if loaded.Checkpoint.Path != "" {
		if err := eng.Checkpoint(loaded.Checkpoint.Path); err != nil {
			log.Printf("final checkpoint failed: %v", err)
		}
	}
	logMetrics(metrics.Snapshot())
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

func defaultLoaded() (ops.Loaded, error) {
	reg := schema.NewRegistry()
	if err := reg.AddSymbol("TEST-USD"); err != nil {
		return ops.Loaded{}, err
	}
	if err := reg.AddStrategy("sim"); err != nil {
		return ops.Loaded{}, err
	}
	return ops.Loaded{
		Registry: reg,
		Signal:   signal.Config{StalenessBound: 5 * time.Minute},
		Retention: ops.RetentionSpec{
			Policy:        retention.Policy{Days: 90},
			SweepInterval: time.Hour,
		},
		Ledger: ledger.Option{
			Driver:     ledger.DriverSQLite,
			ConnString: "file:analyticd.db",
		},
		Checkpoint: ops.CheckpointSpec{
			Path:     "testdata/checkpoint.json",
			Interval: 30 * time.Second,
		},
		Features: ops.FeatureFlags{
			EnableRetention:    true,
			EnableMarkToMarket: true,
		},
	}, nil
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Printf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			log.Printf("config reloaded: %s (retention applies next sweep; pipeline tuning applies on restart)", path)
		}
	}
}

func logMetrics(snap obs.Snapshot) {
	log.Printf("events=%v queue_drops=%d gaps=%d stale_serves=%d dup_trades=%d reorder_rejects=%d ledger_failures=%d",
		snap.EventCounts, snap.QueueDrops, snap.GapDeliveries, snap.StaleServes,
		snap.DuplicateTrades, snap.ReorderRejects, snap.LedgerFailures)
	log.Printf("apply_latency min=%s max=%s avg=%s publish_latency min=%s max=%s avg=%s",
		snap.ApplyLatency.Min, snap.ApplyLatency.Max, snap.ApplyLatency.Avg,
		snap.PublishLatency.Min, snap.PublishLatency.Max, snap.PublishLatency.Avg)
}
