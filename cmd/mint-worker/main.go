package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clearchain/policy-engine/cmd/mint-worker/worker"
	"github.com/clearchain/policy-engine/common/bootstrap"
	"github.com/clearchain/policy-engine/common/clients"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "mint-worker",
		bootstrap.WithoutDB(),
		bootstrap.WithoutQueue(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	if components.Redis == nil {
		components.Logger.Error("mint-worker requires the postgres profile with redis")
		os.Exit(1)
	}

	ledger := clients.NewMemoryLedgerClient()
	mintWorker := worker.New(components.Redis, ledger, &components.Config.Engine, components.Logger)

	errChan := make(chan error, 1)
	go func() {
		if err := mintWorker.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("mint worker error: %w", err)
		}
	}()

	components.Logger.Info("mint-worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		components.Logger.Error("worker failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	components.Logger.Info("mint-worker shutting down")
}
