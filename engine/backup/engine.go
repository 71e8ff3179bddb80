package backup

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clearchain/policy-engine/common/clients"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
)

// RowFailure is one row the cycle could not back up; it stays unsnapshotted
// and is retried next cycle.
type RowFailure struct {
	RowID  string `json:"row_id"`
	Reason string `json:"reason"`
}

// CollectionReport summarizes one collection's backup cycle
type CollectionReport struct {
	Collection string       `json:"collection"`
	Inserts    int          `json:"inserts"`
	Updates    int          `json:"updates"`
	Deletes    int          `json:"deletes"`
	Failures   []RowFailure `json:"failures,omitempty"`
}

// CycleReport summarizes one full backup cycle for an instance
type CycleReport struct {
	InstanceID  uuid.UUID          `json:"instance_id"`
	StartedAt   time.Time          `json:"started_at"`
	Collections []CollectionReport `json:"collections"`
}

// Engine scans every registered instance-scoped collection, compares row
// hashes against the last snapshot, and appends chained diff actions for
// what changed.
type Engine struct {
	mu        sync.Mutex
	adapters  []CollectionAdapter
	snapshots SnapshotStore
	logStore  LogStore
	blob      clients.BlobClient
	cfg       *config.EngineConfig
	log       *logger.Logger

	// one chain writer per (instance, collection)
	writers map[string]*ChainWriter
}

// NewEngine creates a backup engine
func NewEngine(snapshots SnapshotStore, logStore LogStore, blob clients.BlobClient, cfg *config.EngineConfig, log *logger.Logger) *Engine {
	return &Engine{
		snapshots: snapshots,
		logStore:  logStore,
		blob:      blob,
		cfg:       cfg,
		log:       log,
		writers:   make(map[string]*ChainWriter),
	}
}

// RegisterAdapter adds a collection to the backup scope
func (e *Engine) RegisterAdapter(adapter CollectionAdapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters = append(e.adapters, adapter)
}

// Adapter returns the registered adapter for a collection
func (e *Engine) Adapter(collection string) (CollectionAdapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.adapters {
		if a.Collection() == collection {
			return a, true
		}
	}
	return nil, false
}

// Log exposes the diff log store for restore and verification callers
func (e *Engine) Log() LogStore {
	return e.logStore
}

// RunCycle backs up every registered collection for one instance. A failing
// row or collection is logged and skipped; the cycle always completes.
func (e *Engine) RunCycle(ctx context.Context, instanceID uuid.UUID) (*CycleReport, error) {
	report := &CycleReport{
		InstanceID: instanceID,
		StartedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	adapters := append([]CollectionAdapter(nil), e.adapters...)
	e.mu.Unlock()

	for _, adapter := range adapters {
		collectionReport := e.runCollection(ctx, instanceID, adapter)
		report.Collections = append(report.Collections, collectionReport)
	}

	e.log.Info("backup cycle finished",
		"instance_id", instanceID, "collections", len(report.Collections))
	return report, nil
}

func (e *Engine) runCollection(ctx context.Context, instanceID uuid.UUID, adapter CollectionAdapter) CollectionReport {
	report := CollectionReport{Collection: adapter.Collection()}

	rows, err := adapter.FindAllRows(ctx, instanceID)
	if err != nil {
		// The whole collection is retried next cycle
		e.log.Error("failed to read collection",
			"instance_id", instanceID, "collection", adapter.Collection(), "error", err)
		report.Failures = append(report.Failures, RowFailure{Reason: err.Error()})
		return report
	}

	previous, err := e.snapshotIndex(ctx, instanceID, adapter.Collection())
	if err != nil {
		e.log.Error("failed to read snapshot",
			"instance_id", instanceID, "collection", adapter.Collection(), "error", err)
		report.Failures = append(report.Failures, RowFailure{Reason: err.Error()})
		return report
	}

	writer := e.writer(instanceID, adapter.Collection())

	for _, row := range rows {
		structural := adapter.StructuralHash(row)
		content := adapter.ContentHash(row)

		prev, existed := previous[row.ID]
		if existed && prev.StructuralHash == structural && prev.ContentHash == content {
			continue
		}

		actionType := models.DiffInsert
		if existed {
			actionType = models.DiffUpdate
		}

		if err := e.emitRowAction(ctx, writer, instanceID, adapter, row, actionType, structural, content); err != nil {
			e.log.Error("failed to back up row",
				"instance_id", instanceID, "collection", adapter.Collection(),
				"row_id", row.ID, "error", err)
			report.Failures = append(report.Failures, RowFailure{RowID: row.ID, Reason: err.Error()})
			continue
		}

		if existed {
			report.Updates++
		} else {
			report.Inserts++
		}
	}

	deleted, err := adapter.FindDeletedRowMarkers(ctx, instanceID)
	if err != nil {
		e.log.Error("failed to read delete markers",
			"instance_id", instanceID, "collection", adapter.Collection(), "error", err)
		report.Failures = append(report.Failures, RowFailure{Reason: err.Error()})
		return report
	}

	for _, rowID := range deleted {
		if _, existed := previous[rowID]; !existed {
			continue
		}
		if err := e.emitDeleteAction(ctx, writer, instanceID, adapter, rowID); err != nil {
			report.Failures = append(report.Failures, RowFailure{RowID: rowID, Reason: err.Error()})
			continue
		}
		report.Deletes++
	}

	return report
}

func (e *Engine) emitRowAction(ctx context.Context, writer *ChainWriter, instanceID uuid.UUID, adapter CollectionAdapter, row Row, actionType models.DiffActionType, structural, content string) error {
	envelope := models.RowEnvelope{
		RestoreKey: RestoreKey(instanceID, adapter.Collection(), row.ID),
	}

	if adapter.NeedsExternalization(row) || len(row.Payload) > e.cfg.ExternalizeThreshold {
		contentID, err := e.blob.Put(ctx, row.Payload)
		if err != nil {
			return fmt.Errorf("failed to externalize payload: %w", err)
		}
		envelope.BlobRef = contentID
	} else {
		envelope.Document = base64.StdEncoding.EncodeToString(row.Payload)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	action := &models.DiffAction{
		InstanceID:     instanceID,
		Collection:     adapter.Collection(),
		Type:           actionType,
		RowID:          row.ID,
		StructuralHash: structural,
		ContentHash:    content,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	if err := writer.Append(ctx, action); err != nil {
		return err
	}

	// Snapshot only after the action is durably chained, so a failed
	// append retries next cycle
	return e.snapshots.Put(ctx, &models.SnapshotRow{
		InstanceID:     instanceID,
		Collection:     adapter.Collection(),
		RowID:          row.ID,
		StructuralHash: structural,
		ContentHash:    content,
	})
}

func (e *Engine) emitDeleteAction(ctx context.Context, writer *ChainWriter, instanceID uuid.UUID, adapter CollectionAdapter, rowID string) error {
	envelope, err := json.Marshal(models.RowEnvelope{
		RestoreKey: RestoreKey(instanceID, adapter.Collection(), rowID),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	action := &models.DiffAction{
		InstanceID: instanceID,
		Collection: adapter.Collection(),
		Type:       models.DiffDelete,
		RowID:      rowID,
		Payload:    envelope,
		CreatedAt:  time.Now().UTC(),
	}
	if err := writer.Append(ctx, action); err != nil {
		return err
	}

	return e.snapshots.Delete(ctx, instanceID, adapter.Collection(), rowID)
}

func (e *Engine) snapshotIndex(ctx context.Context, instanceID uuid.UUID, collection string) (map[string]models.SnapshotRow, error) {
	rows, err := e.snapshots.List(ctx, instanceID, collection)
	if err != nil {
		return nil, err
	}
	index := make(map[string]models.SnapshotRow, len(rows))
	for _, row := range rows {
		index[row.RowID] = row
	}
	return index, nil
}

func (e *Engine) writer(instanceID uuid.UUID, collection string) *ChainWriter {
	key := instanceID.String() + "|" + collection
	e.mu.Lock()
	defer e.mu.Unlock()

	writer, exists := e.writers[key]
	if !exists {
		writer = NewChainWriter(e.logStore, instanceID, collection)
		e.writers[key] = writer
	}
	return writer
}

// RestoreKey derives the restore-scoped idempotency key for a row. It is
// deterministic and distinct from the live row id, so repeated replays of
// the same log converge.
func RestoreKey(instanceID uuid.UUID, collection, rowID string) string {
	return uuid.NewSHA1(instanceID, []byte(collection+"/"+rowID)).String()
}

// Scheduler runs backup cycles for a set of instances at a fixed interval
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *logger.Logger
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler; Start launches it
func NewScheduler(engine *Engine, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		log:      log,
	}
}

// Start launches periodic cycles for the instances returned by list. A zero
// interval disables the scheduler.
func (s *Scheduler) Start(ctx context.Context, list func() []uuid.UUID) {
	if s.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, instanceID := range list() {
					if _, err := s.engine.RunCycle(ctx, instanceID); err != nil {
						s.log.Error("scheduled backup cycle failed",
							"instance_id", instanceID, "error", err)
					}
				}
			}
		}
	}()
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
