package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/corral/pkg/cleanup"
	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/driver"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/jobconfig"
	"github.com/cuemby/corral/pkg/jobtype"
	"github.com/cuemby/corral/pkg/leader"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/nodes"
	"github.com/cuemby/corral/pkg/offers"
	"github.com/cuemby/corral/pkg/persistence"
	"github.com/cuemby/corral/pkg/running"
	"github.com/cuemby/corral/pkg/runtime"
	"github.com/cuemby/corral/pkg/scheduler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corrald",
	Short: "Corral - offer-matching job scheduler",
	Long: `Corral matches queued job executions against resource offers
from an external resource broker, launches the matched work as tasks on
worker nodes, and reclaims node-local resources once jobs finish.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"corrald version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduling loop",
	Long: `Run starts the node registry, offer manager, cleanup manager,
running-execution manager and scheduling loop, backed by a BoltDB
persistence store. It blocks until interrupted.`,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().String("config", "", "Path to a YAML tunables file (defaults baked in if omitted)")
	runCmd.Flags().String("data-dir", "", "Override the persistence/leader-election data directory")
	runCmd.Flags().String("node-id", "corrald-1", "This process's raft node id for leader election")
	runCmd.Flags().String("raft-bind", "127.0.0.1:7950", "Bind address for the leader-election raft transport")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Listen address for the Prometheus /metrics endpoint")
	runCmd.Flags().Bool("external-containerd", false, "Launch tasks via a real containerd socket instead of the in-memory driver")
	runCmd.Flags().String("containerd-socket", "", "containerd socket path (only with --external-containerd)")
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := persistence.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open persistence store: %w", err)
	}
	defer store.Close()

	nodeID, _ := cmd.Flags().GetString("node-id")
	raftBind, _ := cmd.Flags().GetString("raft-bind")
	elector, err := leader.New(leader.Config{
		NodeID:   nodeID,
		BindAddr: raftBind,
		DataDir:  cfg.DataDir + "/raft",
	})
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}
	if err := elector.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap leader election: %w", err)
	}
	defer elector.Shutdown()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("persistence", true, "")
	metrics.RegisterComponent("raft", elector.IsLeader(), "")

	drv, err := buildDriver(cmd)
	if err != nil {
		return err
	}
	if closer, ok := drv.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	nodeReg := nodes.New()
	offerMgr := offers.New()
	cleanupMgr := cleanup.New(cfg.CleanupTaskBatchSize)
	runningMgr := running.New()
	jobTypeMgr := jobtype.New()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	builder := jobconfig.NewBuilder(jobconfig.NewMapCatalog())

	sched := scheduler.New(scheduler.Deps{
		NodeRegistry:   nodeReg,
		OfferManager:   offerMgr,
		CleanupManager: cleanupMgr,
		RunningManager: runningMgr,
		JobTypeManager: jobTypeMgr,
		Store:          store,
		Driver:         drv,
		TaskBuilder:    builder,
		Broker:         broker,
		Config:         cfg,
	})

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repopulate the running set from persistence so executions survive
	// a scheduler restart.
	persisted, err := store.GetRunningJobExes()
	if err != nil {
		return fmt.Errorf("failed to restore running executions: %w", err)
	}
	runningMgr.AddJobExes(persisted)
	metrics.RunningExesTotal.Set(float64(runningMgr.Count()))

	pump := scheduler.NewCallbackPump(scheduler.Deps{
		NodeRegistry:   nodeReg,
		OfferManager:   offerMgr,
		CleanupManager: cleanupMgr,
		RunningManager: runningMgr,
		Store:          store,
		Broker:         broker,
	})
	if fd, ok := drv.(interface{ Feeds() driver.Feeds }); ok {
		go pump.Run(ctx, fd.Feeds())
	}
	if cd, ok := drv.(*runtime.ContainerdDriver); ok {
		go cd.PollStatuses(ctx, time.Second)
	}

	go refreshSnapshots(ctx, cfg.Delay, store, nodeReg, jobTypeMgr)
	go watchLeadership(ctx, elector, sched)
	go sched.Run(ctx)

	log.Logger.Info().
		Str("node_id", nodeID).
		Str("data_dir", cfg.DataDir).
		Str("metrics_addr", metricsAddr).
		Msg("corrald scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	sched.Shutdown()
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return nil
}

// buildDriver selects the resource-broker driver: a real containerd
// socket in the single-process deployment mode, or the in-memory driver
// for local/dry-run use when no broker is configured.
func buildDriver(cmd *cobra.Command) (driver.Driver, error) {
	useExternal, _ := cmd.Flags().GetBool("external-containerd")
	if !useExternal {
		return driver.NewMemoryDriver(), nil
	}

	socketPath, _ := cmd.Flags().GetString("containerd-socket")
	rt, err := runtime.NewContainerdRuntime(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	return runtime.NewContainerdDriver(rt), nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	return mux
}

// refreshSnapshots periodically rebuilds the node registry and job type
// view from persistence. The scheduling loop itself only ever reads the
// registries; this goroutine is the "external snapshot" producer the
// node registry contract names.
func refreshSnapshots(ctx context.Context, interval time.Duration, store persistence.Store, nodeReg *nodes.Registry, jobTypeMgr *jobtype.Manager) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		nodeSnapshot, err := store.ListNodes()
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to list nodes for snapshot refresh")
		} else {
			nodeReg.UpdateFromSnapshot(nodeSnapshot)
			online, paused := 0, 0
			for _, n := range nodeSnapshot {
				if n.Online {
					online++
				}
				if n.Paused {
					paused++
				}
			}
			metrics.NodesTotal.WithLabelValues("online").Set(float64(online))
			metrics.NodesTotal.WithLabelValues("paused").Set(float64(paused))
		}

		jobTypes, err := store.ListJobTypes()
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to list job types for snapshot refresh")
		} else {
			jobTypeMgr.SetAll(jobTypes)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchLeadership keeps the raft health component and the "is leader"
// gauge current, and pauses queued-execution admission whenever this
// process is not the elected leader, so exactly one replica admits new
// work. Already-running executions still get their next task
// considered even while paused.
func watchLeadership(ctx context.Context, elector *leader.Elector, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			isLeader := elector.IsLeader()
			metrics.RegisterComponent("raft", isLeader, "")
			if isLeader {
				metrics.RaftLeader.Set(1)
			} else {
				metrics.RaftLeader.Set(0)
			}
			sched.SetPaused(!isLeader)
		}
	}
}
