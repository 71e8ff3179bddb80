// Package service holds the policy-engine service layer: instance
// lifecycle, event intake, and the mint worker.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clearchain/policy-engine/common/cache"
	"github.com/clearchain/policy-engine/common/config"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/exec"
	"github.com/clearchain/policy-engine/engine/registry"
	"github.com/clearchain/policy-engine/engine/validator"
	"github.com/google/uuid"
)

const treeCacheTTL = 30 * time.Minute

// ErrInstanceNotFound is returned for events against unknown or archived
// instances
var ErrInstanceNotFound = fmt.Errorf("instance not found")

// InstanceService owns the live policy instances: publishing validated
// definitions, routing events into each instance's execution engine, and
// archiving.
type InstanceService struct {
	reg       *registry.Registry
	validator *validator.Validator
	deps      *block.Deps
	state     exec.StateStore
	cache     cache.Cache
	cfg       *config.Config
	log       *logger.Logger
	sink      exec.ErrorSink

	mu      sync.RWMutex
	engines map[uuid.UUID]*exec.Engine

	schemaMu  sync.RWMutex
	schemas   map[string]bool
	templates map[string]bool
}

// NewInstanceService creates the instance service
func NewInstanceService(
	reg *registry.Registry,
	deps *block.Deps,
	state exec.StateStore,
	treeCache cache.Cache,
	cfg *config.Config,
	log *logger.Logger,
) *InstanceService {
	s := &InstanceService{
		reg:       reg,
		deps:      deps,
		state:     state,
		cache:     treeCache,
		cfg:       cfg,
		log:       log,
		engines:   make(map[uuid.UUID]*exec.Engine),
		schemas:   make(map[string]bool),
		templates: make(map[string]bool),
	}
	s.sink = &logSink{log: log}
	s.validator = validator.New(reg, deps.Expr, validator.Lookups{
		SchemaExists: s.schemaExists,
		TokenExists:  s.tokenExists,
	}, log)
	return s
}

// RegisterSchema declares a document schema ref as known. Request-document
// blocks referencing unknown schemas fail validation.
func (s *InstanceService) RegisterSchema(ref string) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	s.schemas[ref] = true
}

// RegisterTokenTemplate declares a token template as known
func (s *InstanceService) RegisterTokenTemplate(id string) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	s.templates[id] = true
}

func (s *InstanceService) schemaExists(ctx context.Context, ref string) (bool, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	return s.schemas[ref], nil
}

func (s *InstanceService) tokenExists(ctx context.Context, id string) (bool, error) {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	return s.templates[id], nil
}

// Validate parses a definition and returns the per-block error reports.
// An empty slice means the definition is publishable.
func (s *InstanceService) Validate(ctx context.Context, definition []byte) ([]enginerrors.BlockReport, error) {
	tree, err := blocktree.Parse(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	return s.validator.Validate(ctx, tree), nil
}

// Publish validates a definition and starts a live instance for it.
// Returns a ValidationError carrying the block reports if validation
// fails.
func (s *InstanceService) Publish(ctx context.Context, definition []byte) (uuid.UUID, error) {
	tree, err := blocktree.Parse(definition)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse definition: %w", err)
	}

	if reports := s.validator.Validate(ctx, tree); len(reports) > 0 {
		return uuid.Nil, validator.AsError(reports)
	}

	instanceID := uuid.New()
	engine, err := exec.New(instanceID, tree, s.reg, s.deps, s.state, s.log, exec.Options{
		LaneQueueSize: s.cfg.Engine.LaneQueueSize,
		Sink:          s.sink,
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	s.engines[instanceID] = engine
	s.mu.Unlock()

	s.cache.Set(ctx, treeCacheKey(instanceID), tree, treeCacheTTL)
	s.log.Info("instance published", "instance_id", instanceID, "blocks", tree.Len())
	return instanceID, nil
}

// Emit delivers an event into an instance's engine and waits for the
// dispatch, including synchronous trigger fan-out, to finish
func (s *InstanceService) Emit(ctx context.Context, instanceID uuid.UUID, user block.User, blockID uuid.UUID, eventType models.EventType, payload map[string]interface{}) error {
	engine, ok := s.engine(instanceID)
	if !ok {
		return ErrInstanceNotFound
	}
	return engine.Emit(ctx, user, blockID, eventType, payload)
}

// Tree returns an instance's parsed block tree, via the cache when warm
func (s *InstanceService) Tree(ctx context.Context, instanceID uuid.UUID) (*blocktree.Tree, error) {
	if cached, ok := s.cache.Get(ctx, treeCacheKey(instanceID)); ok {
		if tree, ok := cached.(*blocktree.Tree); ok {
			return tree, nil
		}
	}

	engine, ok := s.engine(instanceID)
	if !ok {
		return nil, ErrInstanceNotFound
	}

	tree := engine.Tree()
	s.cache.Set(ctx, treeCacheKey(instanceID), tree, treeCacheTTL)
	return tree, nil
}

// Archive stops an instance's lanes, destroys its execution state, and
// removes it from the live set
func (s *InstanceService) Archive(ctx context.Context, instanceID uuid.UUID) error {
	s.mu.Lock()
	engine, ok := s.engines[instanceID]
	delete(s.engines, instanceID)
	s.mu.Unlock()

	if !ok {
		return ErrInstanceNotFound
	}

	s.cache.Delete(ctx, treeCacheKey(instanceID))
	return engine.Archive(ctx)
}

// ActiveInstances lists the live instance ids. The backup scheduler walks
// this set every interval.
func (s *InstanceService) ActiveInstances() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.engines))
	for id := range s.engines {
		ids = append(ids, id)
	}
	return ids
}

// Exists reports whether an instance is live
func (s *InstanceService) Exists(instanceID uuid.UUID) bool {
	_, ok := s.engine(instanceID)
	return ok
}

func (s *InstanceService) engine(instanceID uuid.UUID) (*exec.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, ok := s.engines[instanceID]
	return engine, ok
}

func treeCacheKey(instanceID uuid.UUID) string {
	return "tree:" + instanceID.String()
}

// logSink reports handler faults through the service log. The fault has
// already been logged with full context by the recovery wrapper; this is
// the external notification hook.
type logSink struct {
	log *logger.Logger
}

func (s *logSink) NotifyFault(ctx context.Context, fault *enginerrors.HandlerFault) {
	s.log.Warn("handler fault reported",
		"instance_id", fault.InstanceID,
		"block_id", fault.BlockID,
		"block_type", fault.BlockType,
		"user_id", fault.UserID,
	)
}
