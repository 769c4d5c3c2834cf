package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresLedger persists actions and top-ups.
//
// Assumed tables:
// - ivr_actions (unique index on idempotency_key)
// - org_topups
//
// RecordAction runs the idempotency check, the top-up debit and the
// action insert inside one transaction with the chosen top-up row locked,
// so concurrent step executions cannot double-debit.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger { return &PostgresLedger{db: db} }

func (l *PostgresLedger) RecordAction(ctx context.Context, a CallAction, bill bool) (CallAction, error) {
	var out CallAction
	err := utils.WithTx(ctx, l.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := findActionByKey(ctx, tx, a.OrgID, a.IdempotencyKey)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}

		if bill {
			topupID, err := debitTopUp(ctx, tx, a.OrgID)
			if err != nil {
				return err
			}
			a.TopUpID = topupID
		}

		const q = `
INSERT INTO ivr_actions (id, org_id, call_id, step_id, topup_id, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
		if _, err := tx.ExecContext(ctx, q,
			a.ID, a.OrgID, a.CallID, a.StepID, a.TopUpID, a.IdempotencyKey, a.CreatedAt,
		); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		// Two first-time writers can race past the key check; the
		// loser's insert hits the unique index after its debit rolled
		// back. The surviving row carries the replay semantics.
		if isUniqueViolation(err) {
			existing, ok, rerr := findActionByKey(ctx, l.db, a.OrgID, a.IdempotencyKey)
			if rerr != nil {
				return CallAction{}, rerr
			}
			if ok {
				return existing, nil
			}
		}
		return CallAction{}, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findActionByKey(ctx context.Context, db rowQueryer, orgID, key string) (CallAction, bool, error) {
	const q = `
SELECT id, org_id, call_id, step_id, topup_id, idempotency_key, created_at
FROM ivr_actions
WHERE org_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var a CallAction
	err := db.QueryRowContext(ctx, q, orgID, key).Scan(
		&a.ID, &a.OrgID, &a.CallID, &a.StepID, &a.TopUpID, &a.IdempotencyKey, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallAction{}, false, nil
		}
		return CallAction{}, false, err
	}
	return a, true, nil
}

// debitTopUp locks the oldest top-up with remaining credits and consumes
// one from it.
func debitTopUp(ctx context.Context, tx *sql.Tx, orgID string) (string, error) {
	const sel = `
SELECT id, credits, used
FROM org_topups
WHERE org_id = $1 AND used < credits
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED
`
	var id string
	var credits, used int
	if err := tx.QueryRowContext(ctx, sel, orgID).Scan(&id, &credits, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInsufficientCredits
		}
		return "", err
	}

	const upd = `UPDATE org_topups SET used = used + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, upd, id); err != nil {
		return "", err
	}
	return id, nil
}

func (l *PostgresLedger) RemainingCredits(ctx context.Context, orgID string) (int, error) {
	const q = `
SELECT COALESCE(SUM(credits - used), 0)
FROM org_topups
WHERE org_id = $1
`
	var n int
	if err := l.db.QueryRowContext(ctx, q, orgID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *PostgresLedger) AddTopUp(ctx context.Context, t TopUp) error {
	const q = `
INSERT INTO org_topups (id, org_id, credits, used, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := l.db.ExecContext(ctx, q, t.ID, t.OrgID, t.Credits, t.Used, t.CreatedAt)
	return err
}

func (l *PostgresLedger) ListActions(ctx context.Context, orgID string, from, to time.Time) ([]CallAction, error) {
	const q = `
SELECT id, org_id, call_id, step_id, topup_id, idempotency_key, created_at
FROM ivr_actions
WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := l.db.QueryContext(ctx, q, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallAction
	for rows.Next() {
		var a CallAction
		if err := rows.Scan(&a.ID, &a.OrgID, &a.CallID, &a.StepID, &a.TopUpID, &a.IdempotencyKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
