package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the key holding the collection document.
const DefaultRedisKey = "patients:collection"

type redisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a Store that keeps the JSON document under one Redis
// key. A missing key reads as an empty collection.
func NewRedisStore(client *redis.Client, key string) Store {
	if key == "" {
		key = DefaultRedisKey
	}
	return &redisStore{client: client, key: key}
}

func (s *redisStore) Load(ctx context.Context) (Collection, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Collection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get %s: %v", ErrStorage, s.key, err)
	}
	return decodeCollection(data)
}

func (s *redisStore) Save(ctx context.Context, c Collection) error {
	data, err := encodeCollection(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", ErrStorage, s.key, err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
