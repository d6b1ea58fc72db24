package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"distmaster/pkg/model"
)

// Archive keeps completed daily ledgers in a local sqlite table for
// offline reporting.
type Archive struct {
	db *sql.DB
}

func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS daily_usage(day TEXT, cluster_id TEXT, hits INTEGER, bytes INTEGER); CREATE INDEX IF NOT EXISTS idx_daily_usage_day ON daily_usage(day);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// ArchiveDay inserts one row per cluster for the completed day.
func (ar *Archive) ArchiveDay(ctx context.Context, day string, l model.DailyLedger) error {
	tx, err := ar.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for id, u := range l.Nodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_usage(day, cluster_id, hits, bytes) VALUES(?,?,?,?)`, day, id, u.Hits, u.Bytes); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DayTotals sums archived usage for one day; used by the management API.
func (ar *Archive) DayTotals(ctx context.Context, day string) (int64, int64, error) {
	row := ar.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(hits),0), COALESCE(SUM(bytes),0) FROM daily_usage WHERE day = ?`, day)
	var hits, bytes int64
	if err := row.Scan(&hits, &bytes); err != nil {
		return 0, 0, err
	}
	return hits, bytes, nil
}

func (ar *Archive) Close() error {
	return ar.db.Close()
}
