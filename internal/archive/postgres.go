package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS profiling_sessions (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ns BIGINT NOT NULL,
	report      JSONB NOT NULL
)`

// PostgresConfig PostgreSQL归档的连接参数
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// PostgresStore 基于pgx连接池的归档
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 建立连接池并确保表存在。
// 连接以指数退避重试，适应容器环境里数据库晚于进程就绪的情况。
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxElapsedTime = connectTimeout

	err = backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}, backoff.WithContext(backOff, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createSessionsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure sessions table: %w", err)
	}

	log.Printf("✅ Postgres archive ready (max_conns=%d)", poolConfig.MaxConns)
	return &PostgresStore{pool: pool}, nil
}

// Put 写入或覆盖一条记录
func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO profiling_sessions (id, started_at, duration_ns, report)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
		    duration_ns = EXCLUDED.duration_ns,
		    report = EXCLUDED.report`,
		rec.ID, rec.StartedAt, rec.Duration.Nanoseconds(), data)
	return err
}

// Get 按ID取回记录
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec        Record
		durationNs int64
		data       []byte
	)

	row := s.pool.QueryRow(ctx,
		`SELECT id, started_at, duration_ns, report FROM profiling_sessions WHERE id = $1`, id)
	if err := row.Scan(&rec.ID, &rec.StartedAt, &durationNs, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rec.Duration = time.Duration(durationNs)
	if err := json.Unmarshal(data, &rec.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &rec, nil
}

// List 按开始时间降序列出
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, duration_ns, report
		FROM profiling_sessions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			rec        Record
			durationNs int64
			data       []byte
		)
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &durationNs, &data); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationNs)
		if err := json.Unmarshal(data, &rec.Report); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
