// Command ragline runs the retrieval service: it discovers models on every
// configured platform, opens the long-term memory store, and keeps the
// expiration sweep running until the process is signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ragline/internal/infra/config"
	"ragline/internal/infra/logger"
	"ragline/internal/infra/tracer"
	"ragline/internal/usecase/retrieval"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background()) //nolint:errcheck

	clients, err := initPlatforms(cfg, log)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.IsAvailable(ctx) {
			log.Info("platform ready", "platform", c.Name())
		} else {
			log.Warn("platform unavailable at startup", "platform", c.Name(), "state", c.State().String())
		}
	}

	mem, err := initMemory(ctx, cfg, clients, log)
	if err != nil {
		return err
	}
	defer mem.Close()

	mem.Sweeper.Start()
	defer mem.Sweeper.Stop()

	engine := retrieval.New(mem.Store, cfg.Retrieval, log)

	log.Info("ragline started",
		"platforms", len(clients),
		"strategy", cfg.Retrieval.Strategy,
		"strategies", engine.Strategies(),
		"memory", cfg.Memory.Path,
	)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
