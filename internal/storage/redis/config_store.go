package redis

import (
	"context"
	"errors"

	"github.com/goodtune/aiji/internal/storage"
	"github.com/redis/go-redis/v9"
)

type configStore struct {
	client *redis.Client
}

func (s *configStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, keyConfig, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *configStore) Set(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, keyConfig, key, value).Err()
}

func (s *configStore) List(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, keyConfig).Result()
}
