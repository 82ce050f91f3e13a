package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig configures query and connection pool metrics
type DBMetricsConfig struct {
	SlowQueryThresh   time.Duration // default 200ms
	PoolStatsInterval time.Duration // default 15s
}

// DBMetrics records query counts, latencies and connection pool usage for
// the record, change-log and import tables.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queries            *Counter
	queryErrors        *Counter
	slowQueries        *Counter
	queryDuration      *Histogram

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDBMetrics creates the instruments on meter
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if meter == nil {
		return nil, &MetricsError{Op: "NewDBMetrics", Err: ErrMeterNil.Err}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{config: cfg, logger: logger, stop: make(chan struct{})}
	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter, "db_pool_connections_max",
		"Maximum open connections", "{connection}"); err != nil {
		return nil, err
	}
	if m.queries, err = NewCounter(meter, "db_query_total",
		"Database queries by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.queryErrors, err = NewCounter(meter, "db_query_errors_total",
		"Failed database queries by operation; not-found lookups are not failures", "{query}"); err != nil {
		return nil, err
	}
	if m.slowQueries, err = NewCounter(meter, "db_slow_query_total",
		"Queries slower than the slow query threshold by table", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// Register installs the query callbacks on db and keeps its pool for
// StartPoolStats
func (m *DBMetrics) Register(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	m.sqlDB = sqlDB
	if err := db.Use(&dbMetricsPlugin{metrics: m}); err != nil {
		return err
	}
	m.logger.Info("Database metrics registered",
		zap.Duration("slow_query_threshold", m.config.SlowQueryThresh),
		zap.Duration("pool_stats_interval", m.config.PoolStatsInterval),
	)
	return nil
}

// StartPoolStats samples the connection pool until Stop or ctx ends
func (m *DBMetrics) StartPoolStats(ctx context.Context) {
	if m.sqlDB == nil {
		m.logger.Warn("Pool stats not started: no database registered")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.RecordPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.RecordPoolStats(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RecordPoolStats records one sample of the pool
func (m *DBMetrics) RecordPoolStats(ctx context.Context) {
	if m.sqlDB == nil {
		return
	}
	stats := m.sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

// RecordQuery records one finished statement
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "OTHER"
	}
	op := AttrDBOperation.String(operation)
	m.queries.Inc(ctx, op)
	m.queryDuration.RecordDuration(ctx, d, op)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		m.queryErrors.Inc(ctx, op)
	}
	if d > m.config.SlowQueryThresh {
		if table == "" {
			table = "unknown"
		}
		m.slowQueries.Inc(ctx, AttrDBTable.String(table))
	}
}

type dbMetricsStartKey struct{}

type dbMetricsPlugin struct {
	metrics *DBMetrics
}

func (p *dbMetricsPlugin) Name() string { return "exchange:db_metrics" }

func (p *dbMetricsPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	after := func(op string) func(*gorm.DB) {
		return func(db *gorm.DB) { p.after(db, op) }
	}
	registrations := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("db_metrics:before_create", p.before) },
		func() error { return cb.Query().Before("gorm:query").Register("db_metrics:before_query", p.before) },
		func() error { return cb.Update().Before("gorm:update").Register("db_metrics:before_update", p.before) },
		func() error { return cb.Delete().Before("gorm:delete").Register("db_metrics:before_delete", p.before) },
		func() error { return cb.Row().Before("gorm:row").Register("db_metrics:before_row", p.before) },
		func() error { return cb.Raw().Before("gorm:raw").Register("db_metrics:before_raw", p.before) },
		func() error { return cb.Create().After("gorm:create").Register("db_metrics:after_create", after("INSERT")) },
		func() error { return cb.Query().After("gorm:query").Register("db_metrics:after_query", after("SELECT")) },
		func() error { return cb.Update().After("gorm:update").Register("db_metrics:after_update", after("UPDATE")) },
		func() error { return cb.Delete().After("gorm:delete").Register("db_metrics:after_delete", after("DELETE")) },
		func() error { return cb.Row().After("gorm:row").Register("db_metrics:after_row", after("")) },
		func() error { return cb.Raw().After("gorm:raw").Register("db_metrics:after_raw", after("")) },
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

func (p *dbMetricsPlugin) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, dbMetricsStartKey{}, time.Now())
}

func (p *dbMetricsPlugin) after(db *gorm.DB, op string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var elapsed time.Duration
	if start, ok := ctx.Value(dbMetricsStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	if op == "" {
		op = sqlOperation(db.Statement.SQL.String())
	}
	p.metrics.RecordQuery(ctx, op, db.Statement.Table, elapsed, db.Error)
}

// sqlOperation returns the leading keyword of raw SQL
func sqlOperation(query string) string {
	query = strings.ToUpper(strings.TrimSpace(query))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(query, op) {
			return op
		}
	}
	return "OTHER"
}
