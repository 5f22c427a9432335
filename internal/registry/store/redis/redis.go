// Package redis stores registry entries in a single Redis hash keyed by the
// hex form of each name.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"sos/internal/registry/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
)

const defaultKey = "sos:registry"

type Store struct {
	client *redis.Client
	key    string
}

// New returns a store writing to the default hash key. A non-empty key
// overrides it, which keeps parallel tests apart.
func New(client *redis.Client, key string) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{client: client, key: key}
}

func (s *Store) Find(ctx context.Context, name domain.Name) (common.Address, error) {
	v, err := s.client.HGet(ctx, s.key, name.Hex()).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, sentinel.ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("redis hget: %w", err)
	}
	return common.HexToAddress(v), nil
}

func (s *Store) FindMany(ctx context.Context, names []domain.Name) ([]common.Address, error) {
	out := make([]common.Address, len(names))
	if len(names) == 0 {
		return out, nil
	}
	fields := make([]string, len(names))
	for i, n := range names {
		fields[i] = n.Hex()
	}
	values, err := s.client.HMGet(ctx, s.key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[i] = common.HexToAddress(str)
		}
	}
	return out, nil
}

// Save writes all entries in one MULTI/EXEC so a batch lands atomically.
func (s *Store) Save(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values := make([]any, 0, len(entries)*2)
		for _, e := range entries {
			values = append(values, e.Name.Hex(), e.Address.Hex())
		}
		pipe.HSet(ctx, s.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save registry: %w", err)
	}
	return nil
}

// Delete removes names. Unmapped names are ignored.
func (s *Store) Delete(ctx context.Context, names []domain.Name) error {
	if len(names) == 0 {
		return nil
	}
	fields := make([]string, len(names))
	for i, n := range names {
		fields[i] = n.Hex()
	}
	if err := s.client.HDel(ctx, s.key, fields...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]models.Entry, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]models.Entry, 0, len(all))
	for field, addr := range all {
		name, err := domain.ParseName(field)
		if err != nil {
			return nil, fmt.Errorf("decode registry field %q: %w", field, err)
		}
		out = append(out, models.Entry{Name: name, Address: common.HexToAddress(addr)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Name[:], out[j].Name[:]) < 0 })
	return out, nil
}
