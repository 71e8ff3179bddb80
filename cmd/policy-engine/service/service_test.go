package service_test

import (
	"time"

	"testing"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	"github.com/clearchain/policy-engine/common/cache"
	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocks"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/clearchain/policy-engine/engine/registry"
	"github.com/clearchain/policy-engine/engine/restore"
	"github.com/clearchain/policy-engine/store"
)

// fixture wires the full service layer to in-memory collaborators
type fixture struct {
	instances *service.InstanceService
	backups   *service.BackupService
	mints     *service.MintService

	reg      *registry.Registry
	docs     *docs.Service
	docStore *store.MemoryDocumentStore
	ledger   *clients.MemoryLedgerClient
	queue    *queue.MemoryTaskQueue
	state    *store.MemoryStateStore
	diffLog  *store.MemoryDiffLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.New("error", "json")
	reg := registry.New()
	blocks.RegisterBuiltins(reg)

	docStore := store.NewMemoryDocumentStore()
	evaluator := expr.NewEvaluator()
	docService := docs.NewService(docStore, evaluator, log)
	ledger := clients.NewMemoryLedgerClient()
	blob := clients.NewMemoryBlobClient()
	taskQueue := queue.NewMemoryTaskQueue(2, log)
	t.Cleanup(func() { taskQueue.Close() })

	cfg := &config.Config{
		Engine: config.EngineConfig{
			LaneQueueSize: 8,
			RetryDelay:    time.Millisecond,
		},
	}

	deps := &block.Deps{
		Docs:   docService,
		Ledger: ledger,
		Blob:   blob,
		Queue:  taskQueue,
		Expr:   evaluator,
		Config: &cfg.Engine,
		Log:    log,
	}

	treeCache := cache.NewMemoryCache(log)
	t.Cleanup(func() { treeCache.Close() })

	state := store.NewMemoryStateStore()
	instances := service.NewInstanceService(reg, deps, state, treeCache, cfg, log)
	instances.RegisterSchema("schema/policy-v1")
	instances.RegisterTokenTemplate("standard")

	diffLog := store.NewMemoryDiffLog()
	backupEngine := backup.NewEngine(store.NewMemorySnapshotStore(), diffLog, blob, &cfg.Engine, log)
	backupEngine.RegisterAdapter(store.NewDocumentAdapter(docStore, backup.RestoreRebuild))

	restorer := restore.NewEngine(blob, nil, log)

	return &fixture{
		instances: instances,
		backups:   service.NewBackupService(backupEngine, restorer, log),
		mints:     service.NewMintService(ledger, instances, log),
		reg:       reg,
		docs:      docService,
		docStore:  docStore,
		ledger:    ledger,
		queue:     taskQueue,
		state:     state,
		diffLog:   diffLog,
	}
}

const policyTreeJSON = `{
	"block_type": "policyContainer",
	"tag": "root",
	"children": [
		{"block_type": "requestDocumentBlock", "tag": "request",
		 "options": {"schema_ref": "schema/policy-v1"}},
		{"block_type": "documentStatusBlock", "tag": "issue",
		 "options": {"status": "ISSUE"}}
	],
	"events": [
		{"source": "RunEvent", "target": "request", "input": "RunEvent"}
	]
}`
