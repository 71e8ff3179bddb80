package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearchain/policy-engine/common/db"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_document (
	id UUID PRIMARY KEY,
	instance_id UUID NOT NULL,
	owner TEXT NOT NULL,
	schema_ref TEXT NOT NULL,
	status TEXT NOT NULL,
	relationships JSONB NOT NULL DEFAULT '[]',
	payload JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_document_instance ON policy_document (instance_id);
CREATE INDEX IF NOT EXISTS idx_policy_document_owner ON policy_document (instance_id, owner);

CREATE TABLE IF NOT EXISTS block_state (
	instance_id UUID NOT NULL,
	user_id TEXT NOT NULL,
	block_id UUID NOT NULL,
	data JSONB,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (instance_id, user_id, block_id)
);

CREATE TABLE IF NOT EXISTS backup_snapshot (
	instance_id UUID NOT NULL,
	collection TEXT NOT NULL,
	row_id TEXT NOT NULL,
	structural_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (instance_id, collection, row_id)
);

CREATE TABLE IF NOT EXISTS diff_action (
	seq BIGSERIAL PRIMARY KEY,
	instance_id UUID NOT NULL,
	collection TEXT NOT NULL,
	action_type TEXT NOT NULL,
	row_id TEXT NOT NULL,
	structural_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chain_hash TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diff_action_chain ON diff_action (instance_id, collection, seq);
`

// InitSchema creates the persistence tables if they do not exist
func InitSchema(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// DocumentRepository handles database operations for policy documents
type DocumentRepository struct {
	db *db.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(database *db.DB) *DocumentRepository {
	return &DocumentRepository{db: database}
}

// Insert stores a new document
func (r *DocumentRepository) Insert(ctx context.Context, doc *models.PolicyDocument) error {
	query := `
		INSERT INTO policy_document (id, instance_id, owner, schema_ref, status, relationships, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	relationships, payload, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		ctx,
		query,
		doc.ID,
		doc.InstanceID,
		doc.Owner,
		doc.SchemaRef,
		doc.Status,
		relationships,
		payload,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	return nil
}

// Update replaces a document's mutable fields
func (r *DocumentRepository) Update(ctx context.Context, doc *models.PolicyDocument) error {
	query := `
		UPDATE policy_document
		SET status = $2, relationships = $3, payload = $4, updated_at = $5
		WHERE id = $1
	`

	relationships, payload, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query, doc.ID, doc.Status, relationships, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", doc.ID)
	}

	return nil
}

// Get retrieves a document by its ID
func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (*models.PolicyDocument, error) {
	query := `
		SELECT id, instance_id, owner, schema_ref, status, relationships, payload, created_at, updated_at
		FROM policy_document
		WHERE id = $1
	`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListByInstance retrieves an instance's documents in creation order
func (r *DocumentRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*models.PolicyDocument, error) {
	query := `
		SELECT id, instance_id, owner, schema_ref, status, relationships, payload, created_at, updated_at
		FROM policy_document
		WHERE instance_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.PolicyDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListByOwner retrieves one user's document slice in creation order
func (r *DocumentRepository) ListByOwner(ctx context.Context, instanceID uuid.UUID, owner string) ([]*models.PolicyDocument, error) {
	query := `
		SELECT id, instance_id, owner, schema_ref, status, relationships, payload, created_at, updated_at
		FROM policy_document
		WHERE instance_id = $1 AND owner = $2
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, instanceID, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by owner: %w", err)
	}
	defer rows.Close()

	var docs []*models.PolicyDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Delete removes a document
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM policy_document WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// DeleteByInstance removes all of an instance's documents
func (r *DocumentRepository) DeleteByInstance(ctx context.Context, instanceID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM policy_document WHERE instance_id = $1`, instanceID); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.PolicyDocument, error) {
	doc := &models.PolicyDocument{}
	var relationships, payload []byte

	err := row.Scan(
		&doc.ID,
		&doc.InstanceID,
		&doc.Owner,
		&doc.SchemaRef,
		&doc.Status,
		&relationships,
		&payload,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(relationships, &doc.Relationships); err != nil {
		return nil, fmt.Errorf("decoding relationships: %w", err)
	}
	if err := json.Unmarshal(payload, &doc.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	return doc, nil
}

func encodeDocumentJSON(doc *models.PolicyDocument) ([]byte, []byte, error) {
	relationships := doc.Relationships
	if relationships == nil {
		relationships = []string{}
	}
	relJSON, err := json.Marshal(relationships)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding relationships: %w", err)
	}

	payload := doc.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding payload: %w", err)
	}

	return relJSON, payloadJSON, nil
}

// StateRepository handles database operations for per-block execution state
type StateRepository struct {
	db *db.DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(database *db.DB) *StateRepository {
	return &StateRepository{db: database}
}

// Get returns the state blob, or nil if none has been written
func (r *StateRepository) Get(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID) ([]byte, error) {
	query := `
		SELECT data
		FROM block_state
		WHERE instance_id = $1 AND user_id = $2 AND block_id = $3
	`

	var data []byte
	err := r.db.QueryRow(ctx, query, instanceID, userID, blockID).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get block state: %w", err)
	}

	return data, nil
}

// Put upserts the state blob
func (r *StateRepository) Put(ctx context.Context, instanceID uuid.UUID, userID string, blockID uuid.UUID, data []byte) error {
	query := `
		INSERT INTO block_state (instance_id, user_id, block_id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, user_id, block_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Exec(ctx, query, instanceID, userID, blockID, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to put block state: %w", err)
	}

	return nil
}

// ListByInstance returns every state blob for an instance in a stable order
func (r *StateRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]models.StateBlob, error) {
	query := `
		SELECT instance_id, user_id, block_id, data, updated_at
		FROM block_state
		WHERE instance_id = $1
		ORDER BY user_id, block_id
	`

	rows, err := r.db.Query(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list block states: %w", err)
	}
	defer rows.Close()

	var blobs []models.StateBlob
	for rows.Next() {
		var blob models.StateBlob
		var data []byte
		if err := rows.Scan(&blob.InstanceID, &blob.UserID, &blob.BlockID, &data, &blob.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block state: %w", err)
		}
		blob.Data = data
		blobs = append(blobs, blob)
	}

	return blobs, rows.Err()
}

// DeleteInstance destroys all execution state for an instance
func (r *StateRepository) DeleteInstance(ctx context.Context, instanceID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM block_state WHERE instance_id = $1`, instanceID); err != nil {
		return fmt.Errorf("failed to delete block states: %w", err)
	}
	return nil
}

// SnapshotRepository handles database operations for backup snapshots
type SnapshotRepository struct {
	db *db.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(database *db.DB) *SnapshotRepository {
	return &SnapshotRepository{db: database}
}

// List returns the snapshot rows for one (instance, collection)
func (r *SnapshotRepository) List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.SnapshotRow, error) {
	query := `
		SELECT instance_id, collection, row_id, structural_hash, content_hash
		FROM backup_snapshot
		WHERE instance_id = $1 AND collection = $2
	`

	rows, err := r.db.Query(ctx, query, instanceID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot rows: %w", err)
	}
	defer rows.Close()

	var out []models.SnapshotRow
	for rows.Next() {
		var row models.SnapshotRow
		if err := rows.Scan(&row.InstanceID, &row.Collection, &row.RowID, &row.StructuralHash, &row.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// Put upserts a row's hash pair
func (r *SnapshotRepository) Put(ctx context.Context, row *models.SnapshotRow) error {
	query := `
		INSERT INTO backup_snapshot (instance_id, collection, row_id, structural_hash, content_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, collection, row_id)
		DO UPDATE SET structural_hash = EXCLUDED.structural_hash, content_hash = EXCLUDED.content_hash
	`

	if _, err := r.db.Exec(ctx, query, row.InstanceID, row.Collection, row.RowID, row.StructuralHash, row.ContentHash); err != nil {
		return fmt.Errorf("failed to put snapshot row: %w", err)
	}

	return nil
}

// Delete forgets a row's snapshot
func (r *SnapshotRepository) Delete(ctx context.Context, instanceID uuid.UUID, collection, rowID string) error {
	query := `
		DELETE FROM backup_snapshot
		WHERE instance_id = $1 AND collection = $2 AND row_id = $3
	`

	if _, err := r.db.Exec(ctx, query, instanceID, collection, rowID); err != nil {
		return fmt.Errorf("failed to delete snapshot row: %w", err)
	}

	return nil
}

// DiffLogRepository handles database operations for the append-only diff
// action log
type DiffLogRepository struct {
	db *db.DB
}

// NewDiffLogRepository creates a new diff log repository
func NewDiffLogRepository(database *db.DB) *DiffLogRepository {
	return &DiffLogRepository{db: database}
}

// Append records an action and fills in its assigned sequence number
func (r *DiffLogRepository) Append(ctx context.Context, action *models.DiffAction) error {
	query := `
		INSERT INTO diff_action (instance_id, collection, action_type, row_id, structural_hash, content_hash, chain_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`

	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRow(
		ctx,
		query,
		action.InstanceID,
		action.Collection,
		action.Type,
		action.RowID,
		action.StructuralHash,
		action.ContentHash,
		action.ChainHash,
		[]byte(action.Payload),
		action.CreatedAt,
	).Scan(&action.Seq)

	if err != nil {
		return fmt.Errorf("failed to append diff action: %w", err)
	}

	return nil
}

// List returns the ordered chain for one (instance, collection)
func (r *DiffLogRepository) List(ctx context.Context, instanceID uuid.UUID, collection string) ([]models.DiffAction, error) {
	query := `
		SELECT seq, instance_id, collection, action_type, row_id, structural_hash, content_hash, chain_hash, payload, created_at
		FROM diff_action
		WHERE instance_id = $1 AND collection = $2
		ORDER BY seq
	`

	rows, err := r.db.Query(ctx, query, instanceID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list diff actions: %w", err)
	}
	defer rows.Close()

	var out []models.DiffAction
	for rows.Next() {
		var action models.DiffAction
		var payload []byte
		err := rows.Scan(
			&action.Seq,
			&action.InstanceID,
			&action.Collection,
			&action.Type,
			&action.RowID,
			&action.StructuralHash,
			&action.ContentHash,
			&action.ChainHash,
			&payload,
			&action.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diff action: %w", err)
		}
		action.Payload = payload
		out = append(out, action)
	}

	return out, rows.Err()
}

// Head returns the latest chain hash, or "" for an empty chain
func (r *DiffLogRepository) Head(ctx context.Context, instanceID uuid.UUID, collection string) (string, error) {
	query := `
		SELECT chain_hash
		FROM diff_action
		WHERE instance_id = $1 AND collection = $2
		ORDER BY seq DESC
		LIMIT 1
	`

	var head string
	err := r.db.QueryRow(ctx, query, instanceID, collection).Scan(&head)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get chain head: %w", err)
	}

	return head, nil
}
