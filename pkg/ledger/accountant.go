// Package ledger aggregates keep-alive traffic reports into the daily
// ledger document and archives completed days.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"distmaster/pkg/model"
	"distmaster/pkg/store"
)

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	nodes map[string]model.NodeUsage
}

// Accountant accumulates per-cluster hit/byte counters. Counters are striped
// across shards keyed by cluster id so that concurrent keep-alives for
// unrelated clusters never contend on one lock.
type Accountant struct {
	store   store.Store
	archive *Archive // optional

	metaMu       sync.Mutex
	lastModified int64
	shards       [shardCount]shard
}

// New creates an accountant starting a fresh day. archive may be nil.
func New(st store.Store, archive *Archive) *Accountant {
	a := &Accountant{store: st, archive: archive, lastModified: time.Now().Unix()}
	for i := range a.shards {
		a.shards[i].nodes = make(map[string]model.NodeUsage)
	}
	return a
}

func (a *Accountant) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &a.shards[h.Sum32()%shardCount]
}

// Record accumulates a keep-alive report. Safe for concurrent use.
func (a *Accountant) Record(clusterID string, hits, bytes int64) {
	sh := a.shardFor(clusterID)
	sh.mu.Lock()
	u := sh.nodes[clusterID]
	u.Hits += hits
	u.Bytes += bytes
	sh.nodes[clusterID] = u
	sh.mu.Unlock()
}

// Snapshot merges all shards into a ledger document.
func (a *Accountant) Snapshot() model.DailyLedger {
	a.metaMu.Lock()
	l := model.DailyLedger{
		LastModified: a.lastModified,
		Nodes:        make(map[string]model.NodeUsage),
	}
	a.metaMu.Unlock()
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		for id, u := range sh.nodes {
			l.Nodes[id] = u
			l.TotalHits += u.Hits
			l.TotalBytes += u.Bytes
		}
		sh.mu.Unlock()
	}
	return l
}

// Load restores counters persisted earlier the same UTC day, so a master
// restart does not zero the ledger mid-day.
func (a *Accountant) Load(ctx context.Context) error {
	l, ok, err := a.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("ledger load: %w", err)
	}
	if !ok || !sameUTCDay(l.LastModified, time.Now().Unix()) {
		return nil
	}
	a.metaMu.Lock()
	a.lastModified = l.LastModified
	a.metaMu.Unlock()
	for id, u := range l.Nodes {
		sh := a.shardFor(id)
		sh.mu.Lock()
		sh.nodes[id] = u
		sh.mu.Unlock()
	}
	return nil
}

// Flush persists the current ledger document. A failed flush is surfaced so
// the caller can retry; the in-memory counters are untouched either way.
func (a *Accountant) Flush(ctx context.Context) error {
	if err := a.store.PutLedger(ctx, a.Snapshot()); err != nil {
		return fmt.Errorf("ledger flush: %w", err)
	}
	return nil
}

// ResetDaily archives the completed day, zeroes all counters and advances
// lastModified. Invoked once per calendar-day boundary (UTC).
func (a *Accountant) ResetDaily(ctx context.Context) error {
	completed := a.Snapshot()
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		sh.nodes = make(map[string]model.NodeUsage)
		sh.mu.Unlock()
	}
	a.metaMu.Lock()
	a.lastModified = time.Now().Unix()
	a.metaMu.Unlock()

	if a.archive != nil && (completed.TotalHits > 0 || completed.TotalBytes > 0) {
		day := time.Unix(completed.LastModified, 0).UTC().Format("2006-01-02")
		if err := a.archive.ArchiveDay(ctx, day, completed); err != nil {
			return fmt.Errorf("ledger archive: %w", err)
		}
	}
	if err := a.store.PutLedger(ctx, a.Snapshot()); err != nil {
		return fmt.Errorf("ledger reset persist: %w", err)
	}
	return nil
}

func sameUTCDay(a, b int64) bool {
	ta, tb := time.Unix(a, 0).UTC(), time.Unix(b, 0).UTC()
	return ta.Year() == tb.Year() && ta.YearDay() == tb.YearDay()
}
