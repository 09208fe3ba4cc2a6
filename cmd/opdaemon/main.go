package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrescamacho/spacetraders-go/internal/adapters/gameapi"
	"github.com/andrescamacho/spacetraders-go/internal/adapters/persistence"
	"github.com/andrescamacho/spacetraders-go/internal/adapters/rpc"
	"github.com/andrescamacho/spacetraders-go/internal/application/containers"
	"github.com/andrescamacho/spacetraders-go/internal/application/executors"
	"github.com/andrescamacho/spacetraders-go/internal/application/recovery"
	"github.com/andrescamacho/spacetraders-go/internal/domain/container"
	"github.com/andrescamacho/spacetraders-go/internal/domain/daemon"
	"github.com/andrescamacho/spacetraders-go/internal/domain/shared"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/config"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/database"
	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/pidfile"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	force := flag.Bool("force", false, "remove a stale PID file and start anyway")
	flag.Parse()

	cfg := config.MustLoadConfig(*configPath)

	pf := pidfile.New(cfg.Daemon.PIDFile)
	if err := pf.Acquire(); err != nil {
		if !*force {
			fmt.Fprintf(os.Stderr, "opdaemon: %v (use --force to override)\n", err)
			os.Exit(1)
		}
		_ = pf.Release()
		if err := pf.Acquire(); err != nil {
			fmt.Fprintf(os.Stderr, "opdaemon: %v\n", err)
			os.Exit(1)
		}
	}
	defer pf.Release()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opdaemon: database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "opdaemon: migrate: %v\n", err)
		os.Exit(1)
	}

	clock := shared.NewRealClock()

	containerRepo := persistence.NewContainerRepository(db, clock)
	logRepo := persistence.NewGormContainerLogRepository(db, clock)
	assignmentRepo := persistence.NewShipAssignmentRepository(db, clock)

	assignments := container.NewShipAssignmentManager(assignmentRepo, clock)

	token := os.Getenv("SPACETRADERS_TOKEN")
	apiClient := gameapi.New(cfg.API, token, clock)

	registry := container.NewExecutorRegistry()
	executors.Register(registry, apiClient, clock)

	manager := containers.NewManager(containerRepo, logRepo, assignments, assignmentRepo, registry, clock, cfg.Daemon.StopTimeout)

	fmt.Println("opdaemon: running startup recovery")
	recoverer := recovery.NewRecoverer(containerRepo, assignmentRepo, manager)
	result, err := recoverer.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "opdaemon: startup recovery: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("opdaemon: recovery resumed=%d failed=%d zombies_released=%d\n",
		result.Resumed, result.Failed, result.ZombiesReleased)

	// Hydrate the in-memory assignment map only after recovery has released
	// zombie rows and recreated any missing ones directly against the
	// repository: hydrating first would seed the map with assignments
	// recovery is about to invalidate.
	if err := assignments.Hydrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "opdaemon: hydrate ship assignments: %v\n", err)
		os.Exit(1)
	}

	healthMonitor := daemon.NewHealthMonitor(
		cfg.Daemon.HealthCheckInterval,
		cfg.Daemon.StaleAssignmentTimeout,
		cfg.Daemon.RecoveryTimeout,
		cfg.Daemon.MaxRecoveryAttempts,
		clock,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := rpc.NewServer(cfg.Daemon.SocketPath, cfg.Daemon.RequestTimeout, manager)
	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "opdaemon: rpc listener: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("opdaemon: listening on %s\n", cfg.Daemon.SocketPath)

	go runHealthLoop(ctx, healthMonitor, assignments, containerRepo, apiClient)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nopdaemon: shutting down")
	cancel()
	server.Stop()
	manager.Shutdown(context.Background(), cfg.Daemon.ShutdownTimeout)
	fmt.Println("opdaemon: stopped")
}

// runHealthLoop ticks the health monitor on its configured interval until
// ctx is cancelled. A slow tick delays but never preempts the next one.
func runHealthLoop(
	ctx context.Context,
	hm *daemon.HealthMonitor,
	assignments *container.ShipAssignmentManager,
	containerRepo container.Repository,
	statusProvider daemon.ShipStatusProvider,
) {
	ticker := time.NewTicker(hm.CheckInterval())
	defer ticker.Stop()

	logf := func(format string, args ...interface{}) {
		fmt.Printf("opdaemon: "+format+"\n", args...)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := containerRepo.ListByStatuses(ctx, []container.Status{
				container.StatusPending, container.StatusStarting, container.StatusRunning, container.StatusStopping,
			})
			if err != nil {
				fmt.Printf("opdaemon: health tick: list containers: %v\n", err)
				continue
			}
			if _, err := hm.Tick(ctx, assignments, rows, statusProvider, logf); err != nil {
				fmt.Printf("opdaemon: health tick: %v\n", err)
			}
		}
	}
}
