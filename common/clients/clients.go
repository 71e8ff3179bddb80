package clients

import (
	"context"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ConfirmedMessage is a ledger message echoed back after consensus
type ConfirmedMessage struct {
	MessageRef string
	TopicID    string
	Payload    []byte
}

// LedgerClient submits messages to and subscribes to topics on the public
// ledger. Implemented elsewhere; the engine only consumes this contract.
type LedgerClient interface {
	SubmitMessage(ctx context.Context, topicID string, payload []byte) (string, error)
	SubscribeTopic(ctx context.Context, topicID string) (<-chan ConfirmedMessage, error)
}

// BlobClient is content-addressable blob storage for large document payloads
// and externalized backup rows.
type BlobClient interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// KeyCustody resolves decryption keys for protected document fields.
type KeyCustody interface {
	ResolveKey(ctx context.Context, ownerDID, keyType, keyContext string) ([]byte, error)
}
