package models

// EventType identifies an input or output event a block can receive or emit.
type EventType string

// Built-in event types
const (
	EventRunBlock      EventType = "RunEvent"
	EventRefresh       EventType = "RefreshEvent"
	EventStepChanged   EventType = "StepChangedEvent"
	EventDocumentNew   EventType = "DocumentNewEvent"
	EventDocumentState EventType = "DocumentStateEvent"
	EventLedgerConfirm EventType = "LedgerConfirmEvent"
	EventTimerTick     EventType = "TimerTickEvent"
	EventTaskComplete  EventType = "TaskCompleteEvent"
)

// Role names a participant role a policy grants block access to
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleUser    Role = "USER"
	RoleAuditor Role = "AUDITOR"
)

// ChildrenPolicy constrains what children a block type may own
type ChildrenPolicy int

const (
	ChildrenNone ChildrenPolicy = iota
	ChildrenAny
	ChildrenSpecial
)

// ControlSurface describes where a block type is driven from
type ControlSurface int

const (
	SurfaceServer ControlSurface = iota
	SurfaceUI
	SurfaceSpecial
)

// DeclaredVariable is a formula variable a block type exposes to calculation
// addons, bound from a schema field path.
type DeclaredVariable struct {
	Path  string `json:"path"`
	Alias string `json:"alias"`
	Type  string `json:"type"`
}

// BlockDescriptor is the immutable capability record for a registered block
// type. One per type, populated at startup, read-only thereafter.
type BlockDescriptor struct {
	BlockType    string             `json:"block_type"`
	CommonBlock  bool               `json:"common_block"`
	Children     ChildrenPolicy     `json:"children_policy"`
	Surface      ControlSurface     `json:"control_surface"`
	InputEvents  []EventType        `json:"input_events"`
	OutputEvents []EventType        `json:"output_events"`
	Variables    []DeclaredVariable `json:"variables,omitempty"`
}

// AcceptsInput reports whether the descriptor declares the given input event
func (d *BlockDescriptor) AcceptsInput(event EventType) bool {
	for _, e := range d.InputEvents {
		if e == event {
			return true
		}
	}
	return false
}

// EmitsOutput reports whether the descriptor declares the given output event
func (d *BlockDescriptor) EmitsOutput(event EventType) bool {
	for _, e := range d.OutputEvents {
		if e == event {
			return true
		}
	}
	return false
}
