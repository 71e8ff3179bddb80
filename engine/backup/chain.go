package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
)

// ExtendChain computes the next chain hash:
// H(previousChainHash, action.type, action.id, structuralHash, contentHash).
// Field separators keep adjacent fields from aliasing.
func ExtendChain(prev string, actionType models.DiffActionType, rowID, structuralHash, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(actionType))
	h.Write([]byte{0})
	h.Write([]byte(rowID))
	h.Write([]byte{0})
	h.Write([]byte(structuralHash))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the chain over an ordered action sequence and
// fails with HashMismatch at the first divergence. The empty string is the
// chain's genesis value.
func VerifyChain(actions []models.DiffAction) error {
	head := ""
	for i, action := range actions {
		head = ExtendChain(head, action.Type, action.RowID, action.StructuralHash, action.ContentHash)
		if head != action.ChainHash {
			return fmt.Errorf("%w: action %d (row %s): computed %s, recorded %s",
				enginerrors.ErrHashMismatch, i, action.RowID, head, action.ChainHash)
		}
	}
	return nil
}

// HashBytes returns the hex SHA256 of raw bytes; adapters build their
// structural and content hashes from it.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainWriter owns chain extension for one (instance, collection). All
// appends serialize on it, so concurrent backup cycles cannot fork the
// chain.
type ChainWriter struct {
	mu         sync.Mutex
	log        LogStore
	instanceID uuid.UUID
	collection string
	head       string
	loaded     bool
}

// NewChainWriter creates a writer; the current head is loaded lazily from
// the log on first append.
func NewChainWriter(log LogStore, instanceID uuid.UUID, collection string) *ChainWriter {
	return &ChainWriter{
		log:        log,
		instanceID: instanceID,
		collection: collection,
	}
}

// Append extends the chain with the action and persists it. The action's
// ChainHash is filled in here; callers must not set it.
func (w *ChainWriter) Append(ctx context.Context, action *models.DiffAction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.loaded {
		head, err := w.log.Head(ctx, w.instanceID, w.collection)
		if err != nil {
			return fmt.Errorf("failed to load chain head: %w", err)
		}
		w.head = head
		w.loaded = true
	}

	action.ChainHash = ExtendChain(w.head, action.Type, action.RowID, action.StructuralHash, action.ContentHash)

	if err := w.log.Append(ctx, action); err != nil {
		return fmt.Errorf("failed to append diff action: %w", err)
	}

	w.head = action.ChainHash
	return nil
}
