package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tollfree-ivr/pkg/utils"
)

// PgxPool is the subset of *pgxpool.Pool used by PostgresSource.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresSource serves policies from the ivr_policies table:
//
//	number     TEXT PRIMARY KEY  -- normalized
//	tenant_id  TEXT NOT NULL
//	body       JSONB NOT NULL
//	updated_at TIMESTAMPTZ NOT NULL
type PostgresSource struct {
	DB  PgxPool
	Now func() time.Time
}

func (s PostgresSource) Resolve(ctx context.Context, tenantID, toNumber string) (Policy, error) {
	number := NormalizeNumber(toNumber)
	if tenantID == "" || number == "" {
		return Policy{}, ErrPolicyNotFound
	}

	var owner string
	var body []byte
	err := s.DB.QueryRow(ctx, `SELECT tenant_id, body FROM ivr_policies WHERE number = $1`, number).Scan(&owner, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrPolicyNotFound
	}
	if err != nil {
		return Policy{}, fmt.Errorf("load policy: %w", err)
	}
	if owner != tenantID {
		return Policy{}, ErrPolicyNotFound
	}

	var p Policy
	if err := json.Unmarshal(body, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidPolicy, number, err)
	}
	p.TenantID = owner
	if p.Number == "" {
		p.Number = number
	}
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (s PostgresSource) TenantForNumber(ctx context.Context, toNumber string) (string, error) {
	var owner string
	err := s.DB.QueryRow(ctx, `SELECT tenant_id FROM ivr_policies WHERE number = $1`, NormalizeNumber(toNumber)).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPolicyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup number owner: %w", err)
	}
	return owner, nil
}

// Save upserts policies in one transaction. A number already owned by a
// different tenant aborts the whole batch with ErrNumberConflict.
func (s PostgresSource) Save(ctx context.Context, policies ...Policy) error {
	for _, p := range policies {
		if err := p.WithDefaults().Validate(); err != nil {
			return err
		}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().UTC()

	return utils.WithTx(ctx, s.DB, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		for _, p := range policies {
			body, err := json.Marshal(p)
			if err != nil {
				return err
			}
			number := NormalizeNumber(p.Number)
			tag, err := tx.Exec(ctx, `
                INSERT INTO ivr_policies (number, tenant_id, body, updated_at)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (number) DO UPDATE
                SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
                WHERE ivr_policies.tenant_id = EXCLUDED.tenant_id
            `, number, p.TenantID, body, ts)
			if err != nil {
				return fmt.Errorf("upsert policy %s: %w", number, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", ErrNumberConflict, p.Number)
			}
		}
		return nil
	})
}
