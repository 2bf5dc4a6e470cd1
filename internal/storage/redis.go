package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "relister:"

// RedisStorage keeps each collection as a list of JSON documents
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(addr string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func (r *RedisStorage) Create(ctx context.Context, collection string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	if err := r.client.RPush(ctx, redisKeyPrefix+collection, data).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (r *RedisStorage) Read(ctx context.Context, collection string, filter Document) ([]Document, error) {
	entries, err := r.client.LRange(ctx, redisKeyPrefix+collection, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []Document{}, nil
		}
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]Document, 0, len(entries))
	for _, entry := range entries {
		var doc Document
		if err := json.Unmarshal([]byte(entry), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal JSON: %w", err)
		}
		if doc.Matches(filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
