// Package blocks is the built-in block library. Every block type
// contributes a factory, a capability descriptor, and a publish-time option
// validator to the registry at startup.
package blocks

import (
	"github.com/clearchain/policy-engine/engine/registry"
)

// Block type tags
const (
	TypePolicyContainer = "policyContainer"
	TypeStepContainer   = "stepContainer"
	TypeSwitch          = "switchBlock"
	TypeRequestDocument = "requestDocumentBlock"
	TypeDocumentStatus  = "documentStatusBlock"
	TypeSendToLedger    = "sendToLedgerBlock"
	TypeMintToken       = "mintTokenBlock"
	TypePagination      = "paginationAddon"
	TypeCalculation     = "calculationAddon"
	TypeTimer           = "timerBlock"
)

// RegisterBuiltins populates a registry with the built-in block library.
// Called once at startup; panics on duplicate registration.
func RegisterBuiltins(reg *registry.Registry) {
	reg.MustRegister(TypePolicyContainer, policyContainerRegistration())
	reg.MustRegister(TypeStepContainer, stepContainerRegistration())
	reg.MustRegister(TypeSwitch, switchRegistration())
	reg.MustRegister(TypeRequestDocument, requestDocumentRegistration())
	reg.MustRegister(TypeDocumentStatus, documentStatusRegistration())
	reg.MustRegister(TypeSendToLedger, sendToLedgerRegistration())
	reg.MustRegister(TypeMintToken, mintTokenRegistration())
	reg.MustRegister(TypePagination, paginationRegistration())
	reg.MustRegister(TypeCalculation, calculationRegistration())
	reg.MustRegister(TypeTimer, timerRegistration())
}
