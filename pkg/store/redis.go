package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"distmaster/pkg/model"
)

const (
	clusterPrefix = "distmaster/clusters/"
	clusterSetKey = "distmaster/cluster_ids"
	ledgerKey     = "distmaster/ledger"
)

// RedisStore persists cluster records and the ledger as JSON values in Redis.
type RedisStore struct {
	cli *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{cli: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisStoreFromClient wires an existing client; used by tests.
func NewRedisStoreFromClient(cli *redis.Client) *RedisStore {
	return &RedisStore{cli: cli}
}

func (s *RedisStore) GetCluster(ctx context.Context, id string) (model.Cluster, bool, error) {
	b, err := s.cli.Get(ctx, clusterPrefix+id).Bytes()
	if err == redis.Nil {
		return model.Cluster{}, false, nil
	}
	if err != nil {
		return model.Cluster{}, false, fmt.Errorf("redis get cluster: %w", err)
	}
	var c model.Cluster
	if err := json.Unmarshal(b, &c); err != nil {
		return model.Cluster{}, false, fmt.Errorf("decode cluster %s: %w", id, err)
	}
	return c, true, nil
}

func (s *RedisStore) PutCluster(ctx context.Context, c model.Cluster) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, clusterPrefix+c.ID, b, 0)
	pipe.SAdd(ctx, clusterSetKey, c.ID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis put cluster: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteCluster(ctx context.Context, id string) error {
	pipe := s.cli.TxPipeline()
	pipe.Del(ctx, clusterPrefix+id)
	pipe.SRem(ctx, clusterSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete cluster: %w", err)
	}
	return nil
}

func (s *RedisStore) ListClusterIDs(ctx context.Context) ([]string, error) {
	ids, err := s.cli.SMembers(ctx, clusterSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list clusters: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) GetLedger(ctx context.Context) (model.DailyLedger, bool, error) {
	b, err := s.cli.Get(ctx, ledgerKey).Bytes()
	if err == redis.Nil {
		return model.DailyLedger{}, false, nil
	}
	if err != nil {
		return model.DailyLedger{}, false, fmt.Errorf("redis get ledger: %w", err)
	}
	var l model.DailyLedger
	if err := json.Unmarshal(b, &l); err != nil {
		return model.DailyLedger{}, false, fmt.Errorf("decode ledger: %w", err)
	}
	return l, true, nil
}

func (s *RedisStore) PutLedger(ctx context.Context, l model.DailyLedger) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if err := s.cli.Set(ctx, ledgerKey, b, 0).Err(); err != nil {
		return fmt.Errorf("redis put ledger: %w", err)
	}
	return nil
}

// Ping reports Redis reachability for the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx).Err()
}
