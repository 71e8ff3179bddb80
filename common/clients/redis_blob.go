package clients

import (
	"context"
	"crypto/sha256"
	"fmt"

	redisWrapper "github.com/clearchain/policy-engine/common/redis"
	"github.com/redis/go-redis/v9"
)

// RedisBlobClient stores blobs in Redis keyed by content hash. Used for
// externalized backup payloads and oversized document bodies.
// NO CACHING - always queries Redis for fresh data.
type RedisBlobClient struct {
	redis  *redisWrapper.Client
	logger Logger
}

// NewRedisBlobClient creates a new Redis-backed blob client
func NewRedisBlobClient(redisClient *redis.Client, logger Logger) *RedisBlobClient {
	return &RedisBlobClient{
		redis:  redisWrapper.NewClient(redisClient, logger),
		logger: logger,
	}
}

// Put stores data in Redis and returns its content ID (SHA256 hash)
func (c *RedisBlobClient) Put(ctx context.Context, data []byte) (string, error) {
	contentID := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	blobKey := fmt.Sprintf("blob:%s", contentID)

	// Store with no expiry; blobs are referenced by the diff log
	if err := c.redis.Set(ctx, blobKey, string(data), 0); err != nil {
		c.logger.Error("failed to store blob", "content_id", contentID, "error", err)
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	c.logger.Debug("stored blob", "content_id", contentID, "size", len(data))
	return contentID, nil
}

// Get retrieves a blob by content ID
func (c *RedisBlobClient) Get(ctx context.Context, contentID string) ([]byte, error) {
	blobKey := fmt.Sprintf("blob:%s", contentID)

	data, err := c.redis.Get(ctx, blobKey)
	if err != nil {
		c.logger.Warn("blob not found", "content_id", contentID)
		return nil, fmt.Errorf("blob not found: %s", contentID)
	}

	c.logger.Debug("retrieved blob", "content_id", contentID, "size", len(data))
	return []byte(data), nil
}
