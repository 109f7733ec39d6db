package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	"Genset-DataBridge/ingest"
)

const createStateTable = `CREATE TABLE IF NOT EXISTS genset_state (
    device_id  TEXT PRIMARY KEY,
    fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL
)`

// Fields are merged with jsonb ||, so fields absent from an update keep their
// stored value.
const upsertState = `INSERT INTO genset_state (device_id, fields, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (device_id) DO UPDATE
SET fields = genset_state.fields || EXCLUDED.fields,
    updated_at = GREATEST(genset_state.updated_at, EXCLUDED.updated_at)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink persists the latest state of every device.
type PostgresSink struct {
	db execer
}

func NewPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the state table when missing.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createStateTable); err != nil {
		return fmt.Errorf("create genset_state: %w", err)
	}
	return nil
}

func (p *PostgresSink) Deliver(ctx context.Context, u ingest.Update) error {
	fields, err := json.Marshal(u.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields of %s: %w", u.DeviceID, err)
	}
	if _, err := p.db.Exec(ctx, upsertState, u.DeviceID, fields, u.Timestamp); err != nil {
		return fmt.Errorf("upsert state of %s: %w", u.DeviceID, err)
	}
	return nil
}

// NewPool opens a pgx pool with SQL tracing routed to logger.
func NewPool(ctx context.Context, dsn string, maxConns, minConns int, maxLifetime time.Duration, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   &pgxZapLogger{logger: logger.Named("pgx")},
			LogLevel: tracelog.LogLevelWarn,
		}
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxLifetime > 0 {
		cfg.MaxConnLifetime = maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type pgxZapLogger struct {
	logger *zap.Logger
}

func (l *pgxZapLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		l.logger.Debug(msg, fields...)
	case tracelog.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case tracelog.LogLevelError:
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
