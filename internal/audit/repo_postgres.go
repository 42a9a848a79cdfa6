package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the pgx surface the Postgres journal needs; *pgxpool.Pool satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepo writes to ivr_call_events. The table is INSERT-only.
type PostgresRepo struct {
	DB Querier
}

const selectEventColumns = `
        SELECT id, tenant_id, type, COALESCE(call_id, ''), COALESCE(state, ''),
               COALESCE(route, ''), COALESCE(digits, ''), COALESCE(actor_user_id, ''),
               COALESCE(actor_role, ''), COALESCE(ip_address, ''), COALESCE(override_id, ''),
               COALESCE(message, ''), COALESCE(metadata::text, ''), created_at
        FROM ivr_call_events`

func (r PostgresRepo) Append(ctx context.Context, e Event) error {
	var metadata any
	if strings.TrimSpace(e.Metadata) != "" {
		metadata = e.Metadata
	}
	_, err := r.DB.Exec(ctx, `
        INSERT INTO ivr_call_events (
            id, tenant_id, type, call_id, state, route, digits,
            actor_user_id, actor_role, ip_address, override_id,
            message, metadata, created_at
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
        )
        ON CONFLICT (id) DO NOTHING
    `,
		e.ID, e.TenantID, string(e.Type),
		nullable(e.CallID), nullable(e.State), nullable(e.Route), nullable(e.Digits),
		nullable(e.ActorUserID), nullable(e.ActorRole), nullable(e.IPAddress), nullable(e.OverrideID),
		nullable(e.Message), metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}
	return nil
}

func (r PostgresRepo) ListByCall(ctx context.Context, tenantID, callID string) ([]Event, error) {
	rows, err := r.DB.Query(ctx, selectEventColumns+`
        WHERE tenant_id = $1 AND call_id = $2
        ORDER BY created_at, id`, tenantID, callID)
	if err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	return scanEvents(rows)
}

func (r PostgresRepo) ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error) {
	rows, err := r.DB.Query(ctx, selectEventColumns+`
        WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
        ORDER BY created_at, id`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list tenant events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.TenantID, &typ, &e.CallID, &e.State, &e.Route, &e.Digits,
			&e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.OverrideID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call events: %w", err)
	}
	return out, nil
}

func nullable(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
