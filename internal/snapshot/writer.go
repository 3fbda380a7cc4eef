package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/pkg/quake"
)

// DBExecutor defines the subset of pgxpool.Pool the writer needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Table names, one per Quake collection.
const (
	TableFlow         = "quake.flow"
	TableEntity       = "quake.entity"
	TableContact      = "quake.contact"
	TableFlowInstance = "quake.flow_instance"
)

// Schema creates the snapshot tables. Safe to run repeatedly.
const Schema = `
CREATE SCHEMA IF NOT EXISTS quake;

CREATE TABLE IF NOT EXISTS quake.flow (
	company_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    JSONB NOT NULL,
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, id)
);

CREATE TABLE IF NOT EXISTS quake.entity (
	company_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    JSONB NOT NULL,
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, id)
);

CREATE TABLE IF NOT EXISTS quake.contact (
	company_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    JSONB NOT NULL,
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, id)
);

CREATE TABLE IF NOT EXISTS quake.flow_instance (
	company_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	flow_id    TEXT,
	contact_id TEXT,
	state      TEXT,
	payload    JSONB NOT NULL,
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, id)
);
`

// Writer upserts record snapshots into Postgres.
type Writer struct {
	db     DBExecutor
	logger *zap.Logger
}

func NewWriter(db DBExecutor, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger}
}

// EnsureSchema creates the quake schema and tables if missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("snapshot: ensure schema: %w", err)
	}
	return nil
}

func (w *Writer) UpsertFlow(ctx context.Context, companyID string, f *quake.Flow) error {
	return w.upsert(ctx, TableFlow, companyID, f.ID, f.Raw, f)
}

func (w *Writer) UpsertEntity(ctx context.Context, companyID string, e *quake.Entity) error {
	return w.upsert(ctx, TableEntity, companyID, e.ID, e.Raw, e)
}

func (w *Writer) UpsertContact(ctx context.Context, companyID string, c *quake.Contact) error {
	return w.upsert(ctx, TableContact, companyID, c.ID, c.Raw, c)
}

// UpsertFlowInstance also denormalises flow, contact and state for querying.
func (w *Writer) UpsertFlowInstance(ctx context.Context, companyID string, fi *quake.FlowInstance) error {
	if fi.ID == "" {
		return quake.ErrMissingID
	}
	payload, err := payloadOf(fi.Raw, fi)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO quake.flow_instance (company_id, id, flow_id, contact_id, state, payload, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (company_id, id)
		DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			contact_id = EXCLUDED.contact_id,
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			synced_at = EXCLUDED.synced_at;
	`
	_, err = w.db.Exec(ctx, query,
		companyID,
		fi.ID.String(),
		fi.FlowID.String(),
		fi.ContactID.String(),
		fi.State,
		payload,
	)
	if err != nil {
		w.logger.Error("snapshot.pg.upsert_failed",
			zap.String("table", TableFlowInstance),
			zap.String("id", fi.ID.String()),
			zap.Error(err))
		return fmt.Errorf("snapshot: upsert %s %s: %w", TableFlowInstance, fi.ID, err)
	}
	return nil
}

func (w *Writer) upsert(ctx context.Context, table, companyID string, id quake.ID, raw json.RawMessage, v any) error {
	if id == "" {
		return quake.ErrMissingID
	}
	payload, err := payloadOf(raw, v)
	if err != nil {
		return err
	}

	// table is one of the package constants, never caller input.
	query := fmt.Sprintf(`
		INSERT INTO %s (company_id, id, payload, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (company_id, id)
		DO UPDATE SET
			payload = EXCLUDED.payload,
			synced_at = EXCLUDED.synced_at;
	`, table)

	if _, err := w.db.Exec(ctx, query, companyID, id.String(), payload); err != nil {
		w.logger.Error("snapshot.pg.upsert_failed",
			zap.String("table", table),
			zap.String("id", id.String()),
			zap.Error(err))
		return fmt.Errorf("snapshot: upsert %s %s: %w", table, id, err)
	}
	return nil
}

// payloadOf prefers the payload exactly as the API returned it.
func payloadOf(raw json.RawMessage, v any) ([]byte, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal payload: %w", err)
	}
	return b, nil
}
