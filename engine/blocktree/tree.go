package blocktree

import (
	"encoding/json"
	"fmt"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
)

// EventWire binds one of a block's output events to an input event on one of
// its children, addressed by tag.
type EventWire struct {
	Source models.EventType `json:"source"`
	Target string           `json:"target"`
	Input  models.EventType `json:"input"`
}

// Definition is the JSON shape a policy version's block tree is published in
type Definition struct {
	ID            string                 `json:"id,omitempty"`
	Tag           string                 `json:"tag,omitempty"`
	BlockType     string                 `json:"block_type"`
	Permissions   []models.Role          `json:"permissions,omitempty"`
	DefaultActive bool                   `json:"default_active"`
	Options       map[string]interface{} `json:"options,omitempty"`
	Events        []EventWire            `json:"events,omitempty"`
	Children      []*Definition          `json:"children,omitempty"`
}

// Node is one block instance in a published tree. Nodes live in a single
// arena; Parent and Children are indices into it, never pointers, so the
// tree carries no reference cycles.
type Node struct {
	ID            uuid.UUID
	Tag           string
	BlockType     string
	Parent        int // arena index; -1 for the root
	Children      []int
	Permissions   []models.Role
	DefaultActive bool
	Options       map[string]interface{}
	Events        []EventWire
}

// AllowsRole reports whether any of the given roles grants access to this
// block. A block with no declared permissions is open to every role.
func (n *Node) AllowsRole(roles []models.Role) bool {
	if len(n.Permissions) == 0 {
		return true
	}
	for _, have := range roles {
		for _, want := range n.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Tree is the immutable, arena-backed block hierarchy for one policy
// version. Safe for unsynchronized concurrent reads after construction.
type Tree struct {
	nodes []Node
	byID  map[uuid.UUID]int
}

// Parse decodes a JSON definition and builds the tree
func Parse(data []byte) (*Tree, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return Build(&def)
}

// Build constructs the arena from a definition. Exactly one root; ids are
// taken from the definition when present, minted otherwise.
func Build(root *Definition) (*Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("definition has no root block")
	}

	t := &Tree{byID: make(map[uuid.UUID]int)}
	if _, err := t.add(root, -1); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) add(def *Definition, parent int) (int, error) {
	if def.BlockType == "" {
		return 0, fmt.Errorf("block without block_type (tag=%q)", def.Tag)
	}

	id := uuid.New()
	if def.ID != "" {
		parsed, err := uuid.Parse(def.ID)
		if err != nil {
			return 0, fmt.Errorf("invalid block id %q: %w", def.ID, err)
		}
		id = parsed
	}

	if _, exists := t.byID[id]; exists {
		return 0, fmt.Errorf("duplicate block id %s", id)
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		ID:            id,
		Tag:           def.Tag,
		BlockType:     def.BlockType,
		Parent:        parent,
		Permissions:   def.Permissions,
		DefaultActive: def.DefaultActive,
		Options:       def.Options,
		Events:        def.Events,
	})
	t.byID[id] = idx

	for _, child := range def.Children {
		childIdx, err := t.add(child, idx)
		if err != nil {
			return 0, err
		}
		t.nodes[idx].Children = append(t.nodes[idx].Children, childIdx)
	}

	return idx, nil
}

// Root returns the root node
func (t *Tree) Root() *Node {
	return &t.nodes[0]
}

// Len returns the number of nodes in the tree
func (t *Tree) Len() int {
	return len(t.nodes)
}

// At returns the node at an arena index
func (t *Tree) At(idx int) *Node {
	return &t.nodes[idx]
}

// ByID resolves a node by its block id
func (t *Tree) ByID(id uuid.UUID) (*Node, bool) {
	idx, exists := t.byID[id]
	if !exists {
		return nil, false
	}
	return &t.nodes[idx], true
}

// ParentOf returns the parent node, or nil for the root
func (t *Tree) ParentOf(n *Node) *Node {
	if n.Parent < 0 {
		return nil
	}
	return &t.nodes[n.Parent]
}

// ChildNodes returns the ordered children of a node
func (t *Tree) ChildNodes(n *Node) []*Node {
	out := make([]*Node, len(n.Children))
	for i, idx := range n.Children {
		out[i] = &t.nodes[idx]
	}
	return out
}

// ChildIndexByTag returns the position of the child with the given tag
// among a node's children, or -1 if absent.
func (t *Tree) ChildIndexByTag(n *Node, tag string) int {
	for i, idx := range n.Children {
		if t.nodes[idx].Tag == tag {
			return i
		}
	}
	return -1
}

// ChildByWireTarget resolves an event wire target against a node's
// children: first by tag, then by id string.
func (t *Tree) ChildByWireTarget(n *Node, target string) (*Node, bool) {
	for _, idx := range n.Children {
		child := &t.nodes[idx]
		if child.Tag != "" && child.Tag == target {
			return child, true
		}
		if child.ID.String() == target {
			return child, true
		}
	}
	return nil, false
}

// Walk visits every node pre-order, depth-first. Returning false from the
// visitor stops the walk.
func (t *Tree) Walk(fn func(*Node) bool) {
	var visit func(idx int) bool
	visit = func(idx int) bool {
		if !fn(&t.nodes[idx]) {
			return false
		}
		for _, child := range t.nodes[idx].Children {
			if !visit(child) {
				return false
			}
		}
		return true
	}
	if len(t.nodes) > 0 {
		visit(0)
	}
}
