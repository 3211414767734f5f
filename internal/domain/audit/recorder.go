// Package audit writes the application-side audit trail. Every mutation of
// the staging tables records a row with before and after snapshots, in the
// same transaction as the mutation itself, so an audit row never exists
// without its change and vice versa.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dischargehq/discharge/internal/platform/db"
)

// Actions recorded in the audit tables.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
)

type Recorder struct {
	pool *pgxpool.Pool
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *Recorder) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// RawUploadChange records an action against a raw_data_ingested row.
func (r *Recorder) RawUploadChange(ctx context.Context, action string, rawDataID, actor uuid.UUID, before, after interface{}) error {
	prev, next, err := snapshots(before, after)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO raw_data_ingested_audit (raw_data_id, action_type, action_user, original_data, new_data)
		VALUES ($1,$2,$3,$4,$5)`,
		rawDataID, action, actor, prev, next,
	)
	if err != nil {
		return fmt.Errorf("record raw upload audit: %w", err)
	}
	return nil
}

// StagedChange records an action against a temporary_discharge row.
func (r *Recorder) StagedChange(ctx context.Context, action string, tempDischargeID, actor uuid.UUID, before, after interface{}) error {
	prev, next, err := snapshots(before, after)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO temporary_discharge_audit (temp_discharge_id, action, changed_by, previous_value, new_value)
		VALUES ($1,$2,$3,$4,$5)`,
		tempDischargeID, action, actor, prev, next,
	)
	if err != nil {
		return fmt.Errorf("record staged discharge audit: %w", err)
	}
	return nil
}

// EnrichmentChange records an action against a temporary_enrichment_data row.
func (r *Recorder) EnrichmentChange(ctx context.Context, action string, enrichmentDataID, actor uuid.UUID, before, after interface{}) error {
	prev, next, err := snapshots(before, after)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO temporary_enrichment_data_audit (enrichment_data_id, action, changed_by, previous_value, new_value)
		VALUES ($1,$2,$3,$4,$5)`,
		enrichmentDataID, action, actor, prev, next,
	)
	if err != nil {
		return fmt.Errorf("record enrichment audit: %w", err)
	}
	return nil
}

// snapshots marshals the before and after states for JSONB storage.
// A nil state (no previous value on insert) becomes SQL NULL.
func snapshots(before, after interface{}) (*string, *string, error) {
	prev, err := marshalSnapshot(before)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal previous value: %w", err)
	}
	next, err := marshalSnapshot(after)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal new value: %w", err)
	}
	return prev, next, nil
}

func marshalSnapshot(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
