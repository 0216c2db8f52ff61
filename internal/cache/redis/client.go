package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/covermap/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type cachedScore struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

func scoreKey(contentHash, controlID string) string {
	return fmt.Sprintf("score:%s:%s", contentHash, controlID)
}

// GetScore looks up a cached scorer result for one (content, control) pair.
func (c *Client) GetScore(ctx context.Context, contentHash, controlID string) (int, string, bool, error) {
	data, err := c.client.Get(ctx, scoreKey(contentHash, controlID)).Bytes()
	if err == redis.Nil {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to get cached score: %w", err)
	}

	var cached cachedScore
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, "", false, fmt.Errorf("failed to unmarshal cached score: %w", err)
	}

	logger.Debug("Score cache hit",
		zap.String("content_hash", contentHash),
		zap.String("control_id", controlID),
	)
	return cached.Score, cached.Rationale, true, nil
}

func (c *Client) SetScore(ctx context.Context, contentHash, controlID string, score int, rationale string) error {
	data, err := json.Marshal(cachedScore{Score: score, Rationale: rationale})
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	err = c.client.Set(ctx, scoreKey(contentHash, controlID), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache score: %w", err)
	}

	return nil
}
