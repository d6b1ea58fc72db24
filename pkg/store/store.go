package store

import (
	"context"

	"distmaster/pkg/model"
)

// Store defines the durable document layer for cluster records and the daily
// traffic ledger. Keyed writes are last-writer-wins; implementations must be
// safe for concurrent use. Backed by memory, Redis, or Consul KV.
type Store interface {
	GetCluster(ctx context.Context, id string) (model.Cluster, bool, error)
	PutCluster(ctx context.Context, c model.Cluster) error
	DeleteCluster(ctx context.Context, id string) error
	ListClusterIDs(ctx context.Context) ([]string, error)
	GetLedger(ctx context.Context) (model.DailyLedger, bool, error)
	PutLedger(ctx context.Context, l model.DailyLedger) error
}
