//go:build consul

package consul

import (
	"context"
	"encoding/json"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"distmaster/pkg/model"
)

// Store is a Consul-backed document store implementation.
type Store struct {
	cli *consulapi.Client
}

const (
	clusterPrefix = "distmaster/clusters/"
	ledgerKey     = "distmaster/ledger"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // ignore error for build; runtime will report
	return &Store{cli: cli}
}

func (s *Store) GetCluster(_ context.Context, id string) (model.Cluster, bool, error) {
	if s.cli == nil {
		return model.Cluster{}, false, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(clusterPrefix+id, nil)
	if err != nil || kv == nil {
		return model.Cluster{}, false, err
	}
	var c model.Cluster
	if err := json.Unmarshal(kv.Value, &c); err != nil {
		return model.Cluster{}, false, err
	}
	return c, true, nil
}

func (s *Store) PutCluster(_ context.Context, c model.Cluster) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: clusterPrefix + c.ID, Value: b}, nil)
	return err
}

func (s *Store) DeleteCluster(_ context.Context, id string) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.KV().Delete(clusterPrefix+id, nil)
	return err
}

func (s *Store) ListClusterIDs(_ context.Context) ([]string, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	keys, _, err := s.cli.KV().Keys(clusterPrefix, "", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(clusterPrefix):])
	}
	return out, nil
}

func (s *Store) GetLedger(_ context.Context) (model.DailyLedger, bool, error) {
	if s.cli == nil {
		return model.DailyLedger{}, false, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(ledgerKey, nil)
	if err != nil || kv == nil {
		return model.DailyLedger{}, false, err
	}
	var l model.DailyLedger
	if err := json.Unmarshal(kv.Value, &l); err != nil {
		return model.DailyLedger{}, false, err
	}
	return l, true, nil
}

// Ping reports Consul reachability for the health endpoint.
func (s *Store) Ping(_ context.Context) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.Status().Leader()
	return err
}

func (s *Store) PutLedger(_ context.Context, l model.DailyLedger) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: ledgerKey, Value: b}, nil)
	return err
}
