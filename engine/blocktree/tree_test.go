package blocktree

import (
	"testing"

	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildsArena(t *testing.T) {
	tree, err := Parse([]byte(`{
		"block_type": "policyContainer",
		"tag": "root",
		"children": [
			{"block_type": "stepContainer", "tag": "steps", "children": [
				{"block_type": "requestDocumentBlock", "tag": "request"},
				{"block_type": "documentStatusBlock", "tag": "issue"}
			]},
			{"block_type": "timerBlock", "tag": "heartbeat"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 5, tree.Len())
	assert.Equal(t, "policyContainer", tree.Root().BlockType)
	assert.Equal(t, -1, tree.Root().Parent)

	children := tree.ChildNodes(tree.Root())
	require.Len(t, children, 2)
	assert.Equal(t, "steps", children[0].Tag)
	assert.Equal(t, "heartbeat", children[1].Tag)

	steps := children[0]
	assert.Equal(t, tree.Root(), tree.ParentOf(steps))
	assert.Len(t, steps.Children, 2)
}

func TestParseMintsMissingIDs(t *testing.T) {
	fixed := uuid.New()
	tree, err := Parse([]byte(`{
		"block_type": "policyContainer",
		"children": [
			{"id": "` + fixed.String() + `", "block_type": "timerBlock"}
		]
	}`))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tree.Root().ID)

	node, found := tree.ByID(fixed)
	require.True(t, found)
	assert.Equal(t, "timerBlock", node.BlockType)
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	id := uuid.New().String()
	_, err := Parse([]byte(`{
		"block_type": "policyContainer",
		"children": [
			{"id": "` + id + `", "block_type": "timerBlock"},
			{"id": "` + id + `", "block_type": "timerBlock"}
		]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestBuildRejectsMissingBlockType(t *testing.T) {
	_, err := Parse([]byte(`{
		"block_type": "policyContainer",
		"children": [{"tag": "untyped"}]
	}`))
	require.Error(t, err)
}

func TestChildIndexByTag(t *testing.T) {
	tree, err := Parse([]byte(`{
		"block_type": "stepContainer",
		"children": [
			{"block_type": "requestDocumentBlock", "tag": "first"},
			{"block_type": "documentStatusBlock", "tag": "second"}
		]
	}`))
	require.NoError(t, err)

	root := tree.Root()
	assert.Equal(t, 0, tree.ChildIndexByTag(root, "first"))
	assert.Equal(t, 1, tree.ChildIndexByTag(root, "second"))
	assert.Equal(t, -1, tree.ChildIndexByTag(root, "missing"))
}

func TestChildByWireTarget(t *testing.T) {
	childID := uuid.New()
	tree, err := Parse([]byte(`{
		"block_type": "policyContainer",
		"children": [
			{"block_type": "timerBlock", "tag": "ticker"},
			{"id": "` + childID.String() + `", "block_type": "documentStatusBlock"}
		]
	}`))
	require.NoError(t, err)

	root := tree.Root()

	byTag, found := tree.ChildByWireTarget(root, "ticker")
	require.True(t, found)
	assert.Equal(t, "timerBlock", byTag.BlockType)

	byID, found := tree.ChildByWireTarget(root, childID.String())
	require.True(t, found)
	assert.Equal(t, childID, byID.ID)

	_, found = tree.ChildByWireTarget(root, "nope")
	assert.False(t, found)
}

func TestWalkIsPreOrderAndStoppable(t *testing.T) {
	tree, err := Parse([]byte(`{
		"block_type": "policyContainer", "tag": "a",
		"children": [
			{"block_type": "stepContainer", "tag": "b", "children": [
				{"block_type": "timerBlock", "tag": "c"}
			]},
			{"block_type": "timerBlock", "tag": "d"}
		]
	}`))
	require.NoError(t, err)

	var order []string
	tree.Walk(func(n *Node) bool {
		order = append(order, n.Tag)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)

	order = nil
	tree.Walk(func(n *Node) bool {
		order = append(order, n.Tag)
		return n.Tag != "b"
	})
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestAllowsRole(t *testing.T) {
	open := &Node{}
	assert.True(t, open.AllowsRole(nil))
	assert.True(t, open.AllowsRole([]models.Role{models.RoleAuditor}))

	restricted := &Node{Permissions: []models.Role{models.RoleOwner, models.RoleAuditor}}
	assert.True(t, restricted.AllowsRole([]models.Role{models.RoleUser, models.RoleOwner}))
	assert.False(t, restricted.AllowsRole([]models.Role{models.RoleUser}))
	assert.False(t, restricted.AllowsRole(nil))
}
