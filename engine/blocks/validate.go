package blocks

import (
	"fmt"

	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/blocktree"
)

// validateContainerOptions flags the autorun/default-active conflict. The
// combination is ambiguous (which start wins?) so it is an error, never
// silently resolved.
func validateContainerOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string
	if block.OptionBool(node, "autorun") && node.DefaultActive {
		errs = append(errs, "autorun and default_active are mutually exclusive")
	}
	return errs
}

func validateStepOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string
	if len(node.Children) == 0 {
		errs = append(errs, "step container needs at least one child")
	}
	return append(errs, validateContainerOptions(vc, node)...)
}

// validateSwitchOptions parses every branch formula and checks each branch
// tag resolves to a distinct child.
func validateSwitchOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string

	conditions, err := switchConditions(node)
	if err != nil {
		return []string{err.Error()}
	}

	seen := make(map[string]bool, len(conditions))
	for i, cond := range conditions {
		if seen[cond.Tag] {
			errs = append(errs, fmt.Sprintf("condition %d: duplicate branch tag %q", i, cond.Tag))
		}
		seen[cond.Tag] = true

		if vc.Tree.ChildIndexByTag(node, cond.Tag) < 0 {
			errs = append(errs, fmt.Sprintf("condition %d: no child tagged %q", i, cond.Tag))
		}

		if err := vc.Expr.Parse(cond.Formula, payloadVariables); err != nil {
			errs = append(errs, fmt.Sprintf("condition %d: %v", i, err))
		}
	}
	return errs
}

// payloadVariables are the names switch formulas may reference; they mirror
// the payload keys the built-in document blocks emit.
var payloadVariables = []string{"document_id", "schema_ref", "status", "owner", "message_ref"}

func validateRequestDocumentOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string

	schemaRef, ok := block.OptionString(node, "schema_ref")
	if !ok {
		return []string{"schema_ref option is required"}
	}

	if vc.SchemaExists != nil {
		exists, err := vc.SchemaExists(vc.Ctx, schemaRef)
		if err != nil {
			errs = append(errs, fmt.Sprintf("schema lookup failed: %v", err))
		} else if !exists {
			errs = append(errs, fmt.Sprintf("schema %q does not exist", schemaRef))
		}
	}
	return errs
}

func validateDocumentStatusOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	status, ok := block.OptionString(node, "status")
	if !ok {
		return []string{"status option is required"}
	}
	switch status {
	case "ISSUE", "REVOKE", "SUSPEND", "RESUME":
		return nil
	}
	return []string{fmt.Sprintf("unknown target status %q", status)}
}

func validateSendToLedgerOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	if _, ok := block.OptionString(node, "topic_id"); !ok {
		return []string{"topic_id option is required"}
	}
	return nil
}

func validateMintTokenOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string

	template, ok := block.OptionString(node, "token_template")
	if !ok {
		return []string{"token_template option is required"}
	}

	if vc.TokenExists != nil {
		exists, err := vc.TokenExists(vc.Ctx, template)
		if err != nil {
			errs = append(errs, fmt.Sprintf("token template lookup failed: %v", err))
		} else if !exists {
			errs = append(errs, fmt.Sprintf("token template %q does not exist", template))
		}
	}
	return errs
}

func validatePaginationOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	if size, ok := block.OptionInt(node, "page_size"); ok && size < 1 {
		return []string{"page_size must be positive"}
	}
	return nil
}

// validateCalculationOptions parses the formula against the declared
// variable aliases, so references to undeclared variables fail at publish
// time instead of degrading every row at runtime.
func validateCalculationOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	var errs []string

	formula, ok := block.OptionString(node, "formula")
	if !ok {
		return []string{"formula option is required"}
	}

	variables, err := declaredVariables(node)
	if err != nil {
		return []string{err.Error()}
	}

	aliases := make([]string, 0, len(variables))
	for _, v := range variables {
		aliases = append(aliases, v.Alias)
	}

	if err := vc.Expr.Parse(formula, aliases); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func validateTimerOptions(vc *block.ValidateContext, node *blocktree.Node) []string {
	return validateContainerOptions(vc, node)
}
