package ivr

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/utils"
	"github.com/google/uuid"
)

// PostgresStore persists calls in the ivr_calls table. Mutate serializes
// per call id with SELECT ... FOR UPDATE inside a transaction, so the
// terminal-state check and the write commit under the same lock.
//
// Assumed tables: ivr_calls, ivr_channels, ivr_contacts.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `
id, org_id, channel_id, flow_id, external_id,
contact_id, contact_phone, contact_is_test,
direction, call_type, status, started_on, ended_on, duration,
created_by, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	err := row.Scan(
		&c.ID,
		&c.OrgID,
		&c.ChannelID,
		&c.FlowID,
		&c.ExternalID,
		&c.ContactID,
		&c.ContactPhone,
		&c.ContactIsTest,
		&c.Direction,
		&c.CallType,
		&c.Status,
		&c.StartedOn,
		&c.EndedOn,
		&c.Duration,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *Call) error {
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const q = `
INSERT INTO ivr_calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID, c.OrgID, c.ChannelID, c.FlowID, c.ExternalID,
		c.ContactID, c.ContactPhone, c.ContactIsTest,
		c.Direction, c.CallType, c.Status, c.StartedOn, c.EndedOn, c.Duration,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM ivr_calls WHERE id = $1`
	return scanCall(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) Mutate(ctx context.Context, id string, fn func(c *Call) error) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT ` + callColumns + ` FROM ivr_calls WHERE id = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}

		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = s.clock().UTC()

		const upd = `
UPDATE ivr_calls
SET external_id = $2, status = $3, started_on = $4, ended_on = $5,
    duration = $6, updated_at = $7
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			c.ID, c.ExternalID, c.Status, c.StartedOn, c.EndedOn, c.Duration, c.UpdatedAt,
		); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (s *PostgresStore) FindActiveTestCall(ctx context.Context, flowID string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM ivr_calls
WHERE flow_id = $1 AND contact_is_test = TRUE
  AND status NOT IN ('completed','busy','failed','no_answer','canceled')
LIMIT 1
`
	return scanCall(s.db.QueryRowContext(ctx, q, flowID))
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ivr_calls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM ivr_calls
WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostgresChannelStore resolves channels from the ivr_channels table.
type PostgresChannelStore struct {
	db *sql.DB
}

func NewPostgresChannelStore(db *sql.DB) *PostgresChannelStore {
	return &PostgresChannelStore{db: db}
}

func (s *PostgresChannelStore) Get(ctx context.Context, id string) (Channel, error) {
	const q = `
SELECT id, org_id, address, flow_id, account_sid, auth_token
FROM ivr_channels
WHERE id = $1
`
	var ch Channel
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&ch.ID, &ch.OrgID, &ch.Address, &ch.FlowID, &ch.AccountSID, &ch.AuthToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Channel{}, ErrNotFound
		}
		return Channel{}, err
	}
	return ch, nil
}

// PostgresContactResolver looks up contacts by caller number, inserting a
// fresh row for numbers never seen in the org before. The upsert keeps
// concurrent first-contact callbacks from racing to two rows.
type PostgresContactResolver struct {
	db *sql.DB
}

func NewPostgresContactResolver(db *sql.DB) *PostgresContactResolver {
	return &PostgresContactResolver{db: db}
}

func (r *PostgresContactResolver) Resolve(ctx context.Context, orgID, phone string) (Contact, error) {
	const q = `
INSERT INTO ivr_contacts (id, org_id, phone, is_test)
VALUES ($1, $2, $3, FALSE)
ON CONFLICT (org_id, phone) DO UPDATE SET phone = EXCLUDED.phone
RETURNING id, org_id, phone, is_test
`
	var c Contact
	err := r.db.QueryRowContext(ctx, q, uuid.NewString(), orgID, phone).Scan(
		&c.ID, &c.OrgID, &c.Phone, &c.IsTest,
	)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}
