package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distmaster/pkg/model"
	"distmaster/pkg/store"
)

func TestRecordAccumulates(t *testing.T) {
	a := New(store.NewMemoryStore(), nil)

	a.Record("A", 5, 1000)
	a.Record("A", 3, 200)
	a.Record("B", 1, 10)

	l := a.Snapshot()
	assert.Equal(t, model.NodeUsage{Hits: 8, Bytes: 1200}, l.Nodes["A"])
	assert.Equal(t, model.NodeUsage{Hits: 1, Bytes: 10}, l.Nodes["B"])
	assert.Equal(t, int64(9), l.TotalHits)
	assert.Equal(t, int64(1210), l.TotalBytes)
}

func TestRecordConcurrent(t *testing.T) {
	a := New(store.NewMemoryStore(), nil)
	ids := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Record(ids[j%len(ids)], 1, 10)
			}
		}()
	}
	wg.Wait()

	l := a.Snapshot()
	assert.Equal(t, int64(800), l.TotalHits)
	assert.Equal(t, int64(8000), l.TotalBytes)
	assert.Equal(t, int64(200), l.Nodes["A"].Hits)
}

func TestResetDaily(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st, nil)
	a.Record("A", 5, 1000)
	before := a.Snapshot().LastModified

	time.Sleep(1100 * time.Millisecond) // lastModified has second granularity
	require.NoError(t, a.ResetDaily(context.Background()))

	l := a.Snapshot()
	assert.Empty(t, l.Nodes)
	assert.Zero(t, l.TotalHits)
	assert.Zero(t, l.TotalBytes)
	assert.Greater(t, l.LastModified, before)

	// The reset state must also be what the store now holds.
	persisted, ok, err := st.GetLedger(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, persisted.Nodes)
}

func TestFlushAndLoadSameDay(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st, nil)
	a.Record("A", 5, 1000)
	require.NoError(t, a.Flush(context.Background()))

	// A restarted accountant picks the same-day counters back up.
	b := New(st, nil)
	require.NoError(t, b.Load(context.Background()))
	assert.Equal(t, model.NodeUsage{Hits: 5, Bytes: 1000}, b.Snapshot().Nodes["A"])
}

func TestLoadIgnoresStaleLedger(t *testing.T) {
	st := store.NewMemoryStore()
	stale := model.DailyLedger{
		LastModified: time.Now().Add(-48 * time.Hour).Unix(),
		TotalHits:    7,
		Nodes:        map[string]model.NodeUsage{"A": {Hits: 7, Bytes: 70}},
	}
	require.NoError(t, st.PutLedger(context.Background(), stale))

	a := New(st, nil)
	require.NoError(t, a.Load(context.Background()))
	assert.Empty(t, a.Snapshot().Nodes, "counters from a previous day must not be restored")
}

func TestArchiveDay(t *testing.T) {
	ar, err := OpenArchive(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ar.Close()
	ctx := context.Background()

	l := model.DailyLedger{
		Nodes: map[string]model.NodeUsage{
			"A": {Hits: 8, Bytes: 1200},
			"B": {Hits: 2, Bytes: 50},
		},
	}
	require.NoError(t, ar.ArchiveDay(ctx, "2026-08-29", l))

	hits, bytes, err := ar.DayTotals(ctx, "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, int64(10), hits)
	assert.Equal(t, int64(1250), bytes)

	hits, bytes, err = ar.DayTotals(ctx, "2026-08-28")
	require.NoError(t, err)
	assert.Zero(t, hits)
	assert.Zero(t, bytes)
}
