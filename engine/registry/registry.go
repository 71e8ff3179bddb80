package registry

import (
	"fmt"
	"sync"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
)

// Registration is everything a block type contributes at startup: a factory
// binding handlers to nodes, the immutable capability descriptor, and an
// optional publish-time option validator.
type Registration struct {
	Factory    block.Factory
	Descriptor *models.BlockDescriptor
	Validate   block.OptionValidator
}

// Registry maps block-type tags to their registrations. Populated at
// startup; read-only thereafter, safe for concurrent reads.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
	}
}

// Register adds a block type. Registering the same tag twice is an error.
func (r *Registry) Register(blockType string, reg Registration) error {
	if blockType == "" {
		return fmt.Errorf("block type tag is required")
	}
	if reg.Factory == nil {
		return fmt.Errorf("block type %s: factory is required", blockType)
	}
	if reg.Descriptor == nil {
		return fmt.Errorf("block type %s: descriptor is required", blockType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[blockType]; exists {
		return fmt.Errorf("block type %s already registered", blockType)
	}

	reg.Descriptor.BlockType = blockType
	r.entries[blockType] = reg
	return nil
}

// MustRegister registers a block type and panics on failure. Intended for
// startup-time registration tables.
func (r *Registry) MustRegister(blockType string, reg Registration) {
	if err := r.Register(blockType, reg); err != nil {
		panic(err)
	}
}

// Resolve returns the registration for a block type, failing with
// UnknownBlockType if absent.
func (r *Registry) Resolve(blockType string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.entries[blockType]
	if !exists {
		return Registration{}, enginerrors.UnknownBlockType(blockType)
	}
	return reg, nil
}

// Descriptor returns just the capability descriptor for a block type
func (r *Registry) Descriptor(blockType string) (*models.BlockDescriptor, error) {
	reg, err := r.Resolve(blockType)
	if err != nil {
		return nil, err
	}
	return reg.Descriptor, nil
}

// Types returns all registered block-type tags
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
