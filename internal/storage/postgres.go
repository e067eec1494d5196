package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS attendance_events (
	id          UUID PRIMARY KEY,
	event_type  TEXT NOT NULL,
	ledger_idx  INTEGER NOT NULL,
	name        TEXT,
	att_date    DATE,
	att_time    TEXT,
	confidence  TEXT,
	status      TEXT,
	automatic   BOOLEAN NOT NULL DEFAULT FALSE,
	record      JSONB,
	occurred_at TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS attendance_events_date_idx ON attendance_events (att_date, name);
`

// PostgresStore is the archive journal of attendance events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// AppendEvent stores ev. Events already in the journal are ignored so
// redelivered messages are harmless.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev models.AttendanceEvent) error {
	row, err := newEventRow(ev)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attendance_events (id, event_type, ledger_idx, name, att_date, att_time, confidence, status, automatic, record, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		row.ID, row.Type, row.Index, row.Name, row.Date, row.Time,
		row.Confidence, row.Status, row.Automatic, row.Record, row.OccurredAt)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns archived events for date, oldest first.
func (s *PostgresStore) ListEvents(ctx context.Context, date time.Time, limit int) ([]models.AttendanceEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, ledger_idx, automatic, record, occurred_at
		 FROM attendance_events WHERE att_date = $1 ORDER BY occurred_at LIMIT $2`,
		date, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AttendanceEvent, error) {
		var (
			ev     models.AttendanceEvent
			typ    string
			record []byte
		)
		if err := row.Scan(&ev.ID, &typ, &ev.Index, &ev.Automatic, &record, &ev.Timestamp); err != nil {
			return ev, err
		}
		ev.Type = models.EventType(typ)
		if len(record) > 0 {
			ev.Record = &models.AttendanceRecord{}
			if err := json.Unmarshal(record, ev.Record); err != nil {
				return ev, fmt.Errorf("decode record: %w", err)
			}
		}
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

// eventRow flattens an event into journal columns.
type eventRow struct {
	ID         uuid.UUID
	Type       string
	Index      int
	Name       *string
	Date       *time.Time
	Time       *string
	Confidence *string
	Status     *string
	Automatic  bool
	Record     []byte
	OccurredAt time.Time
}

func newEventRow(ev models.AttendanceEvent) (eventRow, error) {
	row := eventRow{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Index:      ev.Index,
		Automatic:  ev.Automatic,
		OccurredAt: ev.Timestamp,
	}
	if ev.ID == uuid.Nil {
		return row, fmt.Errorf("event without id")
	}
	if ev.Record == nil {
		return row, nil
	}

	rec := ev.Record
	record, err := json.Marshal(rec)
	if err != nil {
		return row, fmt.Errorf("marshal record: %w", err)
	}
	row.Record = record

	name, clock, conf, status := rec.Name, rec.Time, rec.Confidence.String(), string(rec.Status)
	row.Name, row.Time, row.Confidence, row.Status = &name, &clock, &conf, &status
	if d, err := time.Parse(models.DateLayout, string(rec.Date)); err == nil {
		row.Date = &d
	}
	return row, nil
}
