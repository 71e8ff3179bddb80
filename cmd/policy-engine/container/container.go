// Package container wires the policy-engine services once at startup.
package container

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	"github.com/clearchain/policy-engine/common/bootstrap"
	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocks"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/clearchain/policy-engine/engine/exec"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/clearchain/policy-engine/engine/registry"
	"github.com/clearchain/policy-engine/engine/restore"
	"github.com/clearchain/policy-engine/store"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Registry  *registry.Registry
	Evaluator *expr.Evaluator
	Docs      *docs.Service

	Instances *service.InstanceService
	Backups   *service.BackupService
	Mint      *service.MintService

	Scheduler *backup.Scheduler
}

// NewContainer initializes all services once. The persistence profile
// comes from the engine store config: memory keeps everything in-process,
// postgres uses the database plus Redis-backed blob storage.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	evaluator := expr.NewEvaluator()

	reg := registry.New()
	blocks.RegisterBuiltins(reg)

	// Persistence profile
	var (
		docStorage interface {
			docs.Store
			store.DocumentStorage
		}
		stateStorage exec.StateStore
		snapshots    backup.SnapshotStore
		diffLog      backup.LogStore
		blob         clients.BlobClient
	)

	switch cfg.Engine.Store {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		docStorage = store.NewDocumentRepository(components.DB)
		stateStorage = store.NewStateRepository(components.DB)
		snapshots = store.NewSnapshotRepository(components.DB)
		diffLog = store.NewDiffLogRepository(components.DB)

		if components.Redis != nil {
			blob = clients.NewRedisBlobClient(components.Redis, log)
		} else {
			blob = clients.NewMemoryBlobClient()
		}

	default:
		docStorage = store.NewMemoryDocumentStore()
		stateStorage = store.NewMemoryStateStore()
		snapshots = store.NewMemorySnapshotStore()
		diffLog = store.NewMemoryDiffLog()
		blob = clients.NewMemoryBlobClient()
	}

	ledger := clients.NewMemoryLedgerClient()
	custody := clients.NewMemoryKeyCustody()

	docService := docs.NewService(docStorage, evaluator, log)

	deps := &block.Deps{
		Docs:   docService,
		Ledger: ledger,
		Blob:   blob,
		Queue:  components.Queue,
		Expr:   evaluator,
		Config: &cfg.Engine,
		Log:    log,
	}

	instances := service.NewInstanceService(reg, deps, stateStorage, components.Cache, cfg, log)

	// Backup and restore
	restoreMode := backup.RestoreRebuild
	if cfg.Engine.RestoreMode == "incremental" {
		restoreMode = backup.RestoreIncremental
	}

	backupEngine := backup.NewEngine(snapshots, diffLog, blob, &cfg.Engine, log)
	backupEngine.RegisterAdapter(store.NewDocumentAdapter(docStorage, restoreMode))
	backupEngine.RegisterAdapter(store.NewStateAdapter(stateStorage, restoreMode))

	restoreEngine := restore.NewEngine(blob, custody, log)
	backups := service.NewBackupService(backupEngine, restoreEngine, log)

	// Minting runs off-lane through the task queue
	mint := service.NewMintService(ledger, instances, log)
	if memQueue, ok := components.Queue.(*queue.MemoryTaskQueue); ok {
		memQueue.RegisterWorker(queue.TaskTypeMint, mint.Worker)
	}
	components.Queue.OnCompletion(mint.HandleCompletion)

	c := &Container{
		Components: components,
		Registry:   reg,
		Evaluator:  evaluator,
		Docs:       docService,
		Instances:  instances,
		Backups:    backups,
		Mint:       mint,
	}

	if cfg.Engine.BackupInterval > 0 {
		c.Scheduler = backup.NewScheduler(backupEngine, cfg.Engine.BackupInterval, log)
		c.Scheduler.Start(ctx, instances.ActiveInstances)
	}

	return c, nil
}

// Shutdown stops the container's background work
func (c *Container) Shutdown(ctx context.Context) {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
}
