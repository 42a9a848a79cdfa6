package routing

import (
	"context"
	"errors"
)

var (
	ErrPolicyNotFound = errors.New("routing policy not found")
	ErrNumberConflict = errors.New("toll-free number already owned by another tenant")
)

// Resolver finds the policy for a (tenant, dialed number) pair.
// Implementations are deterministic and side-effect free; callers may cache results.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, toNumber string) (Policy, error)
}

// TenantDirectory identifies the tenant that owns a toll-free number. Used when
// a webhook carries no tenant id.
type TenantDirectory interface {
	TenantForNumber(ctx context.Context, toNumber string) (string, error)
}
