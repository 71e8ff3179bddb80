// Package validator statically analyzes a block tree before publication.
// It walks the tree depth-first, runs structural checks plus each block
// type's own option validator, and aggregates errors per block. A policy
// version is publishable only if every block's error list is empty.
package validator

import (
	"context"
	"fmt"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
	"github.com/clearchain/policy-engine/engine/expr"
	"github.com/clearchain/policy-engine/engine/registry"
)

// Lookups are the external existence checks the validator calls out to.
// Nil members skip the corresponding check.
type Lookups struct {
	SchemaExists func(ctx context.Context, schemaRef string) (bool, error)
	TokenExists  func(ctx context.Context, templateID string) (bool, error)
}

// Validator checks block trees against the registry's descriptors and
// option validators.
type Validator struct {
	reg     *registry.Registry
	expr    *expr.Evaluator
	lookups Lookups
	log     *logger.Logger
}

// New creates a validator
func New(reg *registry.Registry, evaluator *expr.Evaluator, lookups Lookups, log *logger.Logger) *Validator {
	return &Validator{
		reg:     reg,
		expr:    evaluator,
		lookups: lookups,
		log:     log,
	}
}

// Validate walks the tree and returns one report per block that has
// errors. An empty result means the tree is publishable.
func (v *Validator) Validate(ctx context.Context, tree *blocktree.Tree) []enginerrors.BlockReport {
	vc := &block.ValidateContext{
		Ctx:          ctx,
		Tree:         tree,
		Expr:         v.expr,
		SchemaExists: v.lookups.SchemaExists,
		TokenExists:  v.lookups.TokenExists,
	}

	var reports []enginerrors.BlockReport
	tree.Walk(func(n *blocktree.Node) bool {
		errs := v.validateNode(vc, tree, n)
		if len(errs) > 0 {
			reports = append(reports, enginerrors.BlockReport{
				BlockID:   n.ID,
				BlockType: n.BlockType,
				Errors:    errs,
			})
		}
		return true
	})

	if len(reports) > 0 {
		v.log.Warn("tree failed validation", "blocks_with_errors", len(reports))
	}
	return reports
}

// AsError converts a non-empty report batch into a ValidationError
func AsError(reports []enginerrors.BlockReport) error {
	if len(reports) == 0 {
		return nil
	}
	return &enginerrors.ValidationError{Reports: reports}
}

func (v *Validator) validateNode(vc *block.ValidateContext, tree *blocktree.Tree, n *blocktree.Node) []string {
	registration, err := v.reg.Resolve(n.BlockType)
	if err != nil {
		return []string{err.Error()}
	}
	desc := registration.Descriptor

	var errs []string
	errs = append(errs, v.checkChildren(tree, n, desc)...)
	errs = append(errs, v.checkWiring(tree, n, desc)...)
	errs = append(errs, checkChildTags(tree, n)...)

	if registration.Validate != nil {
		errs = append(errs, registration.Validate(vc, n)...)
	}
	return errs
}

// checkChildren enforces the descriptor's children policy
func (v *Validator) checkChildren(tree *blocktree.Tree, n *blocktree.Node, desc *models.BlockDescriptor) []string {
	if desc.Children == models.ChildrenNone && len(n.Children) > 0 {
		return []string{fmt.Sprintf("block type %s does not allow children", n.BlockType)}
	}
	return nil
}

// checkWiring verifies every event wire: the source must be a declared
// output of this block, the target must resolve to a child, and the input
// must be accepted by the child's descriptor.
func (v *Validator) checkWiring(tree *blocktree.Tree, n *blocktree.Node, desc *models.BlockDescriptor) []string {
	var errs []string

	for i, wire := range n.Events {
		if !desc.EmitsOutput(wire.Source) {
			errs = append(errs, fmt.Sprintf("wire %d: %s is not a declared output of %s", i, wire.Source, n.BlockType))
		}

		child, exists := tree.ChildByWireTarget(n, wire.Target)
		if !exists {
			errs = append(errs, fmt.Sprintf("wire %d: no child %q", i, wire.Target))
			continue
		}

		childDesc, err := v.reg.Descriptor(child.BlockType)
		if err != nil {
			// Reported on the child itself
			continue
		}
		if !childDesc.AcceptsInput(wire.Input) {
			errs = append(errs, fmt.Sprintf("wire %d: child %q (%s) does not accept %s", i, wire.Target, child.BlockType, wire.Input))
		}
	}
	return errs
}

// checkChildTags flags duplicate tags among a container's direct children.
// Tags address children in wiring and step targets, so a duplicate is an
// error, not a warning.
func checkChildTags(tree *blocktree.Tree, n *blocktree.Node) []string {
	var errs []string

	seen := make(map[string]bool, len(n.Children))
	for _, child := range tree.ChildNodes(n) {
		if child.Tag == "" {
			continue
		}
		if seen[child.Tag] {
			errs = append(errs, fmt.Sprintf("duplicate child tag %q", child.Tag))
		}
		seen[child.Tag] = true
	}
	return errs
}
