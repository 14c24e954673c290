package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/agentdeck/internal/config"
	"github.com/mtzanidakis/agentdeck/internal/discover"
	"github.com/mtzanidakis/agentdeck/internal/dispatch"
	"github.com/mtzanidakis/agentdeck/internal/natsbus"
	"github.com/mtzanidakis/agentdeck/internal/orchestrator"
	"github.com/mtzanidakis/agentdeck/internal/registry"
	"github.com/mtzanidakis/agentdeck/internal/scheduler"
	"github.com/mtzanidakis/agentdeck/internal/store"
	"github.com/mtzanidakis/agentdeck/internal/vault"
	"github.com/mtzanidakis/agentdeck/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("agentdeck %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: agentdeck <command>\n\nCommands:\n  gateway    Start the agentdeck gateway service\n  vault      Manage encrypted secrets\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting agentdeck gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// Agent registry
	reg := registry.New()

	// Secrets vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
		slog.Info("vault initialized")
	} else {
		slog.Warn("vault passphrase not set, secrets API disabled")
	}

	// Task dispatcher
	disp := dispatch.New(dispatch.Options{
		MaxBackground: cfg.Dispatch.MaxBackground,
		Classifier: &dispatch.CLIClassifier{
			Binary:      cfg.Agent.CLIBinary,
			Model:       cfg.Dispatch.TriageModel,
			PromptLimit: cfg.Dispatch.TriagePromptLimit,
		},
		Runner: &dispatch.CLIRunner{Binary: cfg.Agent.CLIBinary},
	})

	// Agent discovery
	scanner := discover.New(discover.Options{
		Ports:         cfg.Discovery.Ports,
		ProbeTimeout:  cfg.Discovery.ProbeTimeout,
		ClientVersion: version,
	})

	// Orchestrator
	orch := orchestrator.New(orchestrator.Options{
		Registry:   reg,
		Dispatcher: disp,
		Store:      db,
		Scanner:    scanner,
		Bus:        bus,
		Config:     *cfg,
		Version:    version,
	})
	go orch.Run(ctx)

	// Scheduler
	sched := scheduler.New(db, orch, bus, cfg.Scheduler)
	go sched.Start(ctx)

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, orch, reg, disp, cfg.Web, v, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// SIGHUP reloads the config; SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			reloadConfig(cfg, orch, sched)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		cancel()
		return nil
	}
}

func reloadConfig(current *config.Config, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler) {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping current config", "error", err)
		return
	}

	diff := config.Diff(current, next)
	for _, key := range diff.NonReloadable {
		slog.Warn("config change requires restart", "key", key)
	}
	if !diff.HasChanges() {
		slog.Info("config reload: no reloadable changes")
		return
	}

	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewScheduler.PollInterval)
	}
	if diff.AgentChanged || diff.DiscoveryChanged || diff.DispatchChanged {
		orch.UpdateConfig(*next)
	}

	*current = *next
	slog.Info("config reloaded")
}
