package clients

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// MemoryLedgerClient is an in-process ledger fake for tests and the memory
// profile. Submitted messages are confirmed synchronously to subscribers.
type MemoryLedgerClient struct {
	mu          sync.Mutex
	seq         int
	subscribers map[string][]chan ConfirmedMessage
}

// NewMemoryLedgerClient creates a new in-memory ledger client
func NewMemoryLedgerClient() *MemoryLedgerClient {
	return &MemoryLedgerClient{
		subscribers: make(map[string][]chan ConfirmedMessage),
	}
}

// SubmitMessage records the message and fans it out to topic subscribers
func (c *MemoryLedgerClient) SubmitMessage(ctx context.Context, topicID string, payload []byte) (string, error) {
	c.mu.Lock()
	c.seq++
	ref := fmt.Sprintf("%s/%d", topicID, c.seq)
	subs := append([]chan ConfirmedMessage(nil), c.subscribers[topicID]...)
	c.mu.Unlock()

	msg := ConfirmedMessage{MessageRef: ref, TopicID: topicID, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return ref, nil
}

// SubscribeTopic returns a channel of confirmed messages for a topic
func (c *MemoryLedgerClient) SubscribeTopic(ctx context.Context, topicID string) (<-chan ConfirmedMessage, error) {
	ch := make(chan ConfirmedMessage, 64)
	c.mu.Lock()
	c.subscribers[topicID] = append(c.subscribers[topicID], ch)
	c.mu.Unlock()
	return ch, nil
}

// MemoryBlobClient is an in-memory content-addressable blob store
type MemoryBlobClient struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobClient creates a new in-memory blob client
func NewMemoryBlobClient() *MemoryBlobClient {
	return &MemoryBlobClient{blobs: make(map[string][]byte)}
}

// Put stores data and returns its content ID
func (c *MemoryBlobClient) Put(ctx context.Context, data []byte) (string, error) {
	contentID := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	c.mu.Lock()
	c.blobs[contentID] = append([]byte(nil), data...)
	c.mu.Unlock()
	return contentID, nil
}

// Get retrieves data by content ID
func (c *MemoryBlobClient) Get(ctx context.Context, contentID string) ([]byte, error) {
	c.mu.RLock()
	data, exists := c.blobs[contentID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("blob not found: %s", contentID)
	}
	return append([]byte(nil), data...), nil
}

// MemoryKeyCustody resolves keys from a static table. Tests seed it with
// known keys per (owner, keyType).
type MemoryKeyCustody struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryKeyCustody creates a new in-memory key custody fake
func NewMemoryKeyCustody() *MemoryKeyCustody {
	return &MemoryKeyCustody{keys: make(map[string][]byte)}
}

// AddKey seeds a key for (ownerDID, keyType)
func (c *MemoryKeyCustody) AddKey(ownerDID, keyType string, key []byte) {
	c.mu.Lock()
	c.keys[ownerDID+"/"+keyType] = key
	c.mu.Unlock()
}

// ResolveKey looks up the key for (ownerDID, keyType)
func (c *MemoryKeyCustody) ResolveKey(ctx context.Context, ownerDID, keyType, keyContext string) ([]byte, error) {
	c.mu.RLock()
	key, exists := c.keys[ownerDID+"/"+keyType]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no key for owner %s type %s", ownerDID, keyType)
	}
	return key, nil
}
