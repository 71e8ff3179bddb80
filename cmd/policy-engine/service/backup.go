package service

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/clearchain/policy-engine/engine/restore"
	"github.com/google/uuid"
)

// BackupService fronts the backup and restore engines for the HTTP
// surface. Backups and restores address instances by id, so they work on
// archived instances too.
type BackupService struct {
	backups  *backup.Engine
	restorer *restore.Engine
	log      *logger.Logger
}

// NewBackupService creates the backup service
func NewBackupService(backups *backup.Engine, restorer *restore.Engine, log *logger.Logger) *BackupService {
	return &BackupService{
		backups:  backups,
		restorer: restorer,
		log:      log,
	}
}

// RunCycle executes one backup cycle for an instance across all
// registered collections
func (s *BackupService) RunCycle(ctx context.Context, instanceID uuid.UUID) (*backup.CycleReport, error) {
	return s.backups.RunCycle(ctx, instanceID)
}

// Chain returns the ordered diff action log for one collection
func (s *BackupService) Chain(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.DiffAction, error) {
	if _, ok := s.backups.Adapter(collection); !ok {
		return nil, fmt.Errorf("unknown collection: %s", collection)
	}
	return s.backups.Log().List(ctx, instanceID, collection)
}

// VerifyChain recomputes a collection's hash chain and reports the first
// divergence
func (s *BackupService) VerifyChain(ctx context.Context, instanceID uuid.UUID, collection string) error {
	actions, err := s.Chain(ctx, instanceID, collection)
	if err != nil {
		return err
	}
	return s.restorer.Verify(actions)
}

// Restore verifies a collection's chain and replays it through the
// collection's adapter. Per-row failures are collected in the report, not
// fatal.
func (s *BackupService) Restore(ctx context.Context, instanceID uuid.UUID, collection string) (*restore.Report, error) {
	adapter, ok := s.backups.Adapter(collection)
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", collection)
	}

	actions, err := s.backups.Log().List(ctx, instanceID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load diff log: %w", err)
	}

	if err := s.restorer.Verify(actions); err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}

	return s.restorer.Restore(ctx, instanceID, adapter, actions)
}
