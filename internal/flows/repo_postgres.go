package flows

import (
	"context"
	"database/sql"
)

// PostgresRunLog appends trace entries to the flow_run_logs table.
// Storage is INSERT-only; retention is an operational concern.
type PostgresRunLog struct {
	db *sql.DB
}

func NewPostgresRunLog(db *sql.DB) *PostgresRunLog { return &PostgresRunLog{db: db} }

func (r *PostgresRunLog) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO flow_run_logs (id, org_id, flow_id, call_id, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.OrgID, e.FlowID, e.CallID, e.Message, e.CreatedAt)
	return err
}
