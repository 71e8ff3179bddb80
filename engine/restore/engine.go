// Package restore replays a diff log against a target store to
// reconstruct a policy instance's exact state, decrypting protected fields
// on the way. Replays are idempotent: applying the same log twice yields
// the same end state.
package restore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/clearchain/policy-engine/common/clients"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/backup"
	"github.com/google/uuid"
)

// RowFailure is one row that could not be restored
type RowFailure struct {
	RowID  string `json:"row_id"`
	Reason string `json:"reason"`
}

// Report is the partial-success result of a restore run. Failed rows do
// not abort the run; an operator re-runs restore for the remainder.
type Report struct {
	Succeeded int          `json:"succeeded"`
	Failed    []RowFailure `json:"failed,omitempty"`
}

// Engine replays diff logs through collection adapters
type Engine struct {
	blob    clients.BlobClient
	custody clients.KeyCustody
	log     *logger.Logger
}

// NewEngine creates a restore engine
func NewEngine(blob clients.BlobClient, custody clients.KeyCustody, log *logger.Logger) *Engine {
	return &Engine{
		blob:    blob,
		custody: custody,
		log:     log,
	}
}

// Restore replays an ordered diff log for one collection. The adapter's
// RestoreMode decides whether the collection is cleared first (full
// rebuild) or the log is applied incrementally.
func (e *Engine) Restore(ctx context.Context, instanceID uuid.UUID, adapter backup.CollectionAdapter, actions []models.DiffAction) (*Report, error) {
	if adapter.RestoreMode() == backup.RestoreRebuild {
		if err := adapter.ClearCollection(ctx, instanceID); err != nil {
			return nil, fmt.Errorf("failed to clear collection %s: %w", adapter.Collection(), err)
		}
	}

	report := &Report{}
	for i, action := range actions {
		if err := e.applyAction(ctx, instanceID, adapter, &action); err != nil {
			e.log.Error("failed to restore row",
				"instance_id", instanceID, "collection", adapter.Collection(),
				"row_id", action.RowID, "seq", i, "error", err)
			report.Failed = append(report.Failed, RowFailure{RowID: action.RowID, Reason: err.Error()})
			continue
		}
		report.Succeeded++
	}

	e.log.Info("restore finished",
		"instance_id", instanceID, "collection", adapter.Collection(),
		"succeeded", report.Succeeded, "failed", len(report.Failed))
	return report, nil
}

// Verify recomputes the chain hash over the log and compares it entry by
// entry. A restored instance is trustworthy only if verification passes.
func (e *Engine) Verify(actions []models.DiffAction) error {
	return backup.VerifyChain(actions)
}

func (e *Engine) applyAction(ctx context.Context, instanceID uuid.UUID, adapter backup.CollectionAdapter, action *models.DiffAction) error {
	var envelope models.RowEnvelope
	if err := json.Unmarshal(action.Payload, &envelope); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if envelope.RestoreKey == "" {
		return fmt.Errorf("envelope has no restore key")
	}

	if action.Type == models.DiffDelete {
		return adapter.DeleteRow(ctx, instanceID, envelope.RestoreKey)
	}

	payload, err := e.resolvePayload(ctx, &envelope)
	if err != nil {
		return err
	}

	if len(envelope.Encrypted) > 0 {
		payload, err = e.decryptFields(ctx, payload, envelope.Encrypted)
		if err != nil {
			return err
		}
	}

	return adapter.InsertOrUpdate(ctx, instanceID, envelope.RestoreKey, payload)
}

// resolvePayload materializes the row bytes from whichever carrier the
// envelope uses: an externalized blob, an inline base64 document, or a
// merge patch onto nothing (patch-only envelopes are sparse updates).
func (e *Engine) resolvePayload(ctx context.Context, envelope *models.RowEnvelope) ([]byte, error) {
	switch {
	case envelope.BlobRef != "":
		payload, err := e.blob.Get(ctx, envelope.BlobRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch externalized payload: %w", err)
		}
		return payload, nil

	case envelope.Document != "":
		payload, err := base64.StdEncoding.DecodeString(envelope.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedded document: %w", err)
		}
		if len(envelope.Patch) > 0 {
			merged, err := jsonpatch.MergePatch(payload, envelope.Patch)
			if err != nil {
				return nil, fmt.Errorf("failed to apply sparse patch: %w", err)
			}
			return merged, nil
		}
		return payload, nil

	case len(envelope.Patch) > 0:
		merged, err := jsonpatch.MergePatch([]byte(`{}`), envelope.Patch)
		if err != nil {
			return nil, fmt.Errorf("failed to apply sparse patch: %w", err)
		}
		return merged, nil
	}

	return nil, fmt.Errorf("envelope carries no payload")
}

// decryptFields opens each protected field with its custody-resolved key
// and writes the plaintext back into the row at the field's path.
func (e *Engine) decryptFields(ctx context.Context, payload []byte, fields map[string]models.EncryptedField) ([]byte, error) {
	var row map[string]interface{}
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("failed to decode row for decryption: %w", err)
	}

	for path, field := range fields {
		plaintext, err := e.openField(ctx, &field)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", enginerrors.ErrDecryptionFailure, path, err)
		}

		var value interface{}
		if err := json.Unmarshal(plaintext, &value); err != nil {
			// Plaintext that is not JSON restores as a string
			value = string(plaintext)
		}
		setPath(row, path, value)
	}

	return json.Marshal(row)
}

func (e *Engine) openField(ctx context.Context, field *models.EncryptedField) ([]byte, error) {
	key, err := e.custody.ResolveKey(ctx, field.OwnerDID, field.KeyType, "restore")
	if err != nil {
		return nil, fmt.Errorf("key resolution failed: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(field.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(field.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}

	return DecryptField(key, nonce, ciphertext)
}

// setPath writes a value at a dot-separated path, creating intermediate
// objects as needed.
func setPath(row map[string]interface{}, path string, value interface{}) {
	current := row
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		segment := path[start:i]
		if i == len(path) {
			current[segment] = value
			return
		}
		start = i + 1

		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}
}
