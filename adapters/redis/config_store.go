// Package redis provides redis backed adapters for the bundler
package redis

import (
	"context"
	"errors"

	"github.com/flashbots/launch-bundler/bundler"
	"github.com/redis/go-redis/v9"
)

// ConfigStore keeps the deployment document under a single redis key.
// SET replaces the value atomically so a failed write never leaves a partial document.
type ConfigStore struct {
	client *redis.Client
	key    string
}

func NewConfigStore(client *redis.Client, key string) *ConfigStore {
	return &ConfigStore{
		client: client,
		key:    key,
	}
}

func (s *ConfigStore) Load(ctx context.Context) (*bundler.DeploymentConfig, error) {
	return bundler.LoadSnapshot(ctx, s)
}

func (s *ConfigStore) Raw(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, bundler.ErrNoConfig
	}
	return data, err
}

func (s *ConfigStore) Store(ctx context.Context, doc []byte) error {
	return s.client.Set(ctx, s.key, doc, 0).Err()
}

// Delete removes the stored document. It should only be used for testing.
func (s *ConfigStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
