// Package statsexport is the optional ClickHouse summary exporter
// (C15): at process exit it inserts exactly one aggregate row — never
// per-sample data, so it does not violate the "no persisting samples
// to disk" non-goal — describing the whole run. Grounded on
// dns-dashboard/db/db.go's retry-connect loop and
// collector/collector/clickhouse_writer.go's one-retry-then-drop
// shape, reduced from a batch of per-query rows to a single row.
package statsexport

import (
	"context"
	"database/sql"
	"time"

	"dnsperf-go/internal/engine"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS dnsperf_runs (
	run_id        String,
	server_addr   String,
	started_at    DateTime,
	ended_at      DateTime,
	num_threads   UInt32,
	num_sent      UInt64,
	num_completed UInt64,
	num_timed_out UInt64,
	num_interrupted UInt64,
	num_unexpected UInt64,
	mean_latency_us Float64,
	stddev_latency_us Float64,
	p50_latency_us  Float64,
	p95_latency_us  Float64,
	p99_latency_us  Float64,
	qps Float64
) ENGINE = MergeTree() ORDER BY started_at
`

// Row is the single summary record inserted per run.
type Row struct {
	RunID      string
	ServerAddr string
	StartTime  time.Time
	EndTime    time.Time
	NumThreads int
	Totals     engine.Snapshot
	P50, P95, P99 float64
	QPS        float64
}

// Export connects with a short retry loop (dns-dashboard's
// InitDB shape), creates the table if missing, inserts one row, and
// closes the connection. Failures are logged and swallowed: a broken
// metrics sink must never fail the run.
func Export(dsn string, row Row, log *logrus.Logger) {
	db, err := connectWithRetry(dsn, 5)
	if err != nil {
		log.WithError(err).Warn("clickhouse summary export: connect failed, skipping")
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, createTableDDL); err != nil {
		log.WithError(err).Warn("clickhouse summary export: create table failed")
		return
	}

	if err := insertRow(ctx, db, row); err != nil {
		// One retry, short jitter, then drop — the writer never blocks
		// process exit on a flaky sink.
		time.Sleep(150 * time.Millisecond)
		if err2 := insertRow(ctx, db, row); err2 != nil {
			log.WithError(err2).Warn("clickhouse summary export: insert failed, dropping row")
		}
	}
}

func connectWithRetry(dsn string, attempts int) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < attempts; i++ {
		db, err = sql.Open("clickhouse", dsn)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, err
}

func insertRow(ctx context.Context, db *sql.DB, row Row) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO dnsperf_runs
		(run_id, server_addr, started_at, ended_at, num_threads,
		 num_sent, num_completed, num_timed_out, num_interrupted, num_unexpected,
		 mean_latency_us, stddev_latency_us, p50_latency_us, p95_latency_us, p99_latency_us, qps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.ServerAddr, row.StartTime, row.EndTime, row.NumThreads,
		row.Totals.NumSent, row.Totals.NumCompleted, row.Totals.NumTimedOut,
		row.Totals.NumInterrupted, row.Totals.NumUnexpected,
		row.Totals.Mean(), row.Totals.Stddev(), row.P50, row.P95, row.P99, row.QPS,
	)
	return err
}
