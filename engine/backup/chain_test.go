package backup

import (
	"context"
	"errors"
	"testing"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendChainIsDeterministic(t *testing.T) {
	a := ExtendChain("", models.DiffInsert, "row-1", "s1", "c1")
	b := ExtendChain("", models.DiffInsert, "row-1", "s1", "c1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// any input change forks the hash
	assert.NotEqual(t, a, ExtendChain("", models.DiffUpdate, "row-1", "s1", "c1"))
	assert.NotEqual(t, a, ExtendChain("", models.DiffInsert, "row-2", "s1", "c1"))
	assert.NotEqual(t, a, ExtendChain("", models.DiffInsert, "row-1", "s2", "c1"))
	assert.NotEqual(t, a, ExtendChain("", models.DiffInsert, "row-1", "s1", "c2"))
	assert.NotEqual(t, a, ExtendChain(a, models.DiffInsert, "row-1", "s1", "c1"))
}

func TestExtendChainSeparatorsPreventAliasing(t *testing.T) {
	// shifting bytes between adjacent fields must not collide
	a := ExtendChain("", models.DiffInsert, "ab", "c", "")
	b := ExtendChain("", models.DiffInsert, "a", "bc", "")
	assert.NotEqual(t, a, b)
}

func chainActions(n int) []models.DiffAction {
	actions := make([]models.DiffAction, 0, n)
	head := ""
	for i := 0; i < n; i++ {
		action := models.DiffAction{
			Type:           models.DiffInsert,
			RowID:          uuid.New().String(),
			StructuralHash: HashBytes([]byte{byte(i)}),
			ContentHash:    HashBytes([]byte{byte(i), 1}),
		}
		head = ExtendChain(head, action.Type, action.RowID, action.StructuralHash, action.ContentHash)
		action.ChainHash = head
		actions = append(actions, action)
	}
	return actions
}

func TestVerifyChain(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
	assert.NoError(t, VerifyChain(chainActions(5)))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	actions := chainActions(5)
	actions[2].ContentHash = HashBytes([]byte("tampered"))

	err := VerifyChain(actions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrHashMismatch))
	assert.Contains(t, err.Error(), "action 2")
}

func TestVerifyChainDetectsReordering(t *testing.T) {
	actions := chainActions(4)
	actions[1], actions[2] = actions[2], actions[1]

	err := VerifyChain(actions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enginerrors.ErrHashMismatch))
}

func TestVerifyChainDetectsTruncatedPrefix(t *testing.T) {
	// dropping the first action breaks every later link
	actions := chainActions(3)
	assert.Error(t, VerifyChain(actions[1:]))
}

// memoryLog is a minimal in-package log store for chain writer tests
type memoryLog struct {
	actions []models.DiffAction
}

func (l *memoryLog) Append(ctx context.Context, action *models.DiffAction) error {
	action.Seq = int64(len(l.actions) + 1)
	l.actions = append(l.actions, *action)
	return nil
}

func (l *memoryLog) List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.DiffAction, error) {
	return append([]models.DiffAction(nil), l.actions...), nil
}

func (l *memoryLog) Head(ctx context.Context, instanceID uuid.UUID, collection string) (string, error) {
	if len(l.actions) == 0 {
		return "", nil
	}
	return l.actions[len(l.actions)-1].ChainHash, nil
}

func TestChainWriterLinksAppends(t *testing.T) {
	log := &memoryLog{}
	instanceID := uuid.New()
	ctx := context.Background()

	writer := NewChainWriter(log, instanceID, "documents")
	for i := 0; i < 3; i++ {
		err := writer.Append(ctx, &models.DiffAction{
			Type:  models.DiffInsert,
			RowID: uuid.New().String(),
		})
		require.NoError(t, err)
	}

	require.Len(t, log.actions, 3)
	assert.NoError(t, VerifyChain(log.actions))
}

func TestChainWriterResumesFromPersistedHead(t *testing.T) {
	log := &memoryLog{}
	instanceID := uuid.New()
	ctx := context.Background()

	first := NewChainWriter(log, instanceID, "documents")
	require.NoError(t, first.Append(ctx, &models.DiffAction{Type: models.DiffInsert, RowID: "r1"}))

	// a fresh writer, as after a process restart, loads the head lazily
	second := NewChainWriter(log, instanceID, "documents")
	require.NoError(t, second.Append(ctx, &models.DiffAction{Type: models.DiffUpdate, RowID: "r1"}))

	assert.NoError(t, VerifyChain(log.actions))
}

func TestRestoreKey(t *testing.T) {
	instanceID := uuid.New()

	key := RestoreKey(instanceID, "documents", "row-1")
	assert.Equal(t, key, RestoreKey(instanceID, "documents", "row-1"))
	assert.NotEqual(t, key, RestoreKey(instanceID, "documents", "row-2"))
	assert.NotEqual(t, key, RestoreKey(instanceID, "block_states", "row-1"))
	assert.NotEqual(t, key, RestoreKey(uuid.New(), "documents", "row-1"))

	// restore keys are valid uuids, never the raw row id
	_, err := uuid.Parse(key)
	assert.NoError(t, err)
	assert.NotEqual(t, "row-1", key)
}
