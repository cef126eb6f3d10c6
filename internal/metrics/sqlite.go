package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink 把记录写入本地数据库，适合没有云端账号的部署
type SQLiteSink struct {
	db        *sql.DB
	retention time.Duration
	stop      chan struct{}
}

// OpenSQLiteSink 打开或创建数据库，retention 大于 0 时每小时清理过期记录
func OpenSQLiteSink(path string, retention time.Duration) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// 单写连接，避免 database is locked
	db.SetMaxOpenConns(1)

	if err := initDB(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteSink{db: db, retention: retention, stop: make(chan struct{})}
	if retention > 0 {
		go s.cleanupRoutine()
	}
	return s, nil
}

func initDB(db *sql.DB) error {
	_, err := db.Exec(`
        PRAGMA journal_mode = WAL;
        PRAGMA synchronous = NORMAL;
        PRAGMA temp_store = MEMORY;
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS metric_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            namespace TEXT NOT NULL,
            timestamp DATETIME NOT NULL,
            metric TEXT NOT NULL,
            dimensions TEXT NOT NULL,
            unit TEXT NOT NULL,
            sample_count INTEGER NOT NULL,
            sum REAL NOT NULL,
            min REAL NOT NULL,
            max REAL NOT NULL,
            samples TEXT NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_metric_records_timestamp ON metric_records(timestamp);
        CREATE INDEX IF NOT EXISTS idx_metric_records_metric ON metric_records(metric, dimensions);
    `)
	return err
}

func (s *SQLiteSink) Send(ctx context.Context, namespace string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO metric_records
            (namespace, timestamp, metric, dimensions, unit, sample_count, sum, min, max, samples)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if len(rec.Values) == 0 {
			continue
		}
		dims, err := json.Marshal(rec.Dimensions)
		if err != nil {
			return err
		}
		samples, err := json.Marshal(rec.Values)
		if err != nil {
			return err
		}

		sum, lo, hi := 0.0, rec.Values[0], rec.Values[0]
		for _, v := range rec.Values {
			sum += v
			lo = min(lo, v)
			hi = max(hi, v)
		}

		if _, err := stmt.ExecContext(ctx, namespace, rec.Timestamp.UTC(), rec.MetricName, string(dims),
			rec.Unit, len(rec.Values), sum, lo, hi, string(samples)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Count 返回某个指标已保存的样本总数
func (s *SQLiteSink) Count(ctx context.Context, metric string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(sample_count) FROM metric_records WHERE metric = ?`, metric).Scan(&n)
	return int(n.Int64), err
}

func (s *SQLiteSink) Close() error {
	close(s.stop)
	return s.db.Close()
}

func (s *SQLiteSink) cleanupRoutine() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		s.cleanup()
		select {
		case <-ticker.C:
		case <-s.stop:
			return
		}
	}
}

func (s *SQLiteSink) cleanup() {
	res, err := s.db.Exec(`DELETE FROM metric_records WHERE timestamp < ?`, time.Now().Add(-s.retention).UTC())
	if err != nil {
		slog.Error("[Metrics] 清理过期指标失败", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("[Metrics] 已清理过期指标", "rows", n)
	}
}
