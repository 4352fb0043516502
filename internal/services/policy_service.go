// Package services – PolicyService
//
// This file implements PolicyService, the application-level component that
// owns single-tenant policy operations. Every call resolves the tenant
// through the directory, opens a short-lived data context bound to that
// tenant's connection string, and closes it before returning; no context is
// ever shared across tenants or across concurrent calls.
//
// Caching: list pages and point lookups are cached per (tenant, query) with
// the single-tenant TTL. Mutations run inside a transaction and then
// invalidate conservatively — the whole cache is wiped because cross-tenant
// aggregate keys cannot be enumerated, and the precise single-tenant keys are
// removed by name so the contract holds even if the global wipe is ever
// narrowed.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the tenant id and pagination parameters.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/coverlane/go-policy-admin/internal/cache"
	"github.com/coverlane/go-policy-admin/internal/domain"
	"github.com/coverlane/go-policy-admin/internal/repo"
	"github.com/coverlane/go-policy-admin/internal/tenant"
)

// PolicyKey is the cache key for one policy point lookup within a tenant.
// Mutations invalidate exactly this key (plus the global wipe).
func PolicyKey(tenantID string, policyID int) string {
	return fmt.Sprintf("policy:%s:%d", tenantID, policyID)
}

// listKey is the cache key for one sorted page of a tenant's policies.
func listKey(tenantID string, page, pageSize int, sortColumn, sortDirection string) string {
	return fmt.Sprintf("policies:%s:p%d:s%d:%s:%s",
		tenantID, page, pageSize,
		strings.ToLower(strings.TrimSpace(sortColumn)),
		strings.ToLower(strings.TrimSpace(sortDirection)))
}

// policyPage is the cached value for a single-tenant list query.
type policyPage struct {
	Items []domain.Policy
	Total int64
}

// PolicyService implements the tenant-scoped policy use-cases: sorted and
// paginated listing, point lookups, and transactional mutations with cache
// invalidation.
type PolicyService struct {
	// Directory resolves tenant ids to records.
	Directory *tenant.Directory

	// Cache is the shared process-wide cache.
	Cache *cache.MemoryCache

	// DefaultDSN backs tenant records without a connection string
	// (bootstrap scenario only).
	DefaultDSN string

	// ListTTL bounds single-tenant query cache entries.
	ListTTL time.Duration
}

// open resolves the tenant and builds its data context. Callers must close
// the returned handle via repo.Close.
func (s *PolicyService) open(ctx context.Context, tenantID string) (domain.Tenant, *gorm.DB, error) {
	rec, err := s.Directory.GetByID(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, nil, err
	}
	db, err := repo.OpenTenant(rec, s.DefaultDSN)
	if err != nil {
		return domain.Tenant{}, nil, err
	}
	return rec, db, nil
}

// tag stamps the owning tenant onto fetched policies.
func tag(policies []domain.Policy, rec domain.Tenant) {
	for i := range policies {
		policies[i].TenantID = rec.ID
		policies[i].TenantName = rec.Name
	}
}

// List returns one sorted page of the tenant's policies and the tenant's
// total count. pageSize must be at least 1 (ErrInvalidPagination otherwise);
// page below 1 is clamped to 1. Results are cached per (tenant, query).
func (s *PolicyService) List(ctx context.Context, tenantID string, page, pageSize int, sortColumn, sortDirection string) ([]domain.Policy, int64, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if pageSize < 1 {
		return nil, 0, ErrInvalidPagination
	}
	if page < 1 {
		page = 1
	}

	key := listKey(tenantID, page, pageSize, sortColumn, sortDirection)
	if v, found := s.Cache.TryGet(key); found {
		if pp, ok := v.(policyPage); ok {
			return pp.Items, pp.Total, nil
		}
	}

	rec, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer repo.Close(db)

	items, total, err := repo.ListPolicies(ctx, db, page, pageSize, sortColumn, sortDirection)
	if err != nil {
		return nil, 0, err
	}
	tag(items, rec)

	s.Cache.Set(key, policyPage{Items: items, Total: total}, s.ListTTL)
	return items, total, nil
}

// Get returns one policy by its tenant-local id, denormalized with the owning
// tenant. Cached under PolicyKey.
func (s *PolicyService) Get(ctx context.Context, tenantID string, policyID int) (*domain.Policy, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("policy.id", policyID),
		),
	)
	defer span.End()

	key := PolicyKey(tenantID, policyID)
	if v, found := s.Cache.TryGet(key); found {
		if p, ok := v.(domain.Policy); ok {
			out := p
			return &out, nil
		}
	}

	rec, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	p, err := repo.GetPolicy(ctx, db, policyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	p.TenantID = rec.ID
	p.TenantName = rec.Name

	s.Cache.Set(key, *p, s.ListTTL)
	return p, nil
}

// Create inserts a policy into the tenant's database inside a transaction and
// invalidates the cache. The payload must carry a name and a policy type.
func (s *PolicyService) Create(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	if strings.TrimSpace(p.Name) == "" || p.PolicyTypeID == 0 {
		return nil, ErrInvalidPolicy
	}

	rec, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := repo.CreatePolicy(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.TenantID = rec.ID
	p.TenantName = rec.Name

	s.invalidateAfterMutation(tenantID, p.ID)
	return p, nil
}

// Update persists changes to an existing policy inside a transaction and
// invalidates the cache. ErrPolicyNotFound when the id does not exist.
func (s *PolicyService) Update(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("policy.id", p.ID),
		),
	)
	defer span.End()

	if strings.TrimSpace(p.Name) == "" || p.PolicyTypeID == 0 {
		return nil, ErrInvalidPolicy
	}

	rec, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.UpdatePolicy(ctx, tx, p)
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	p.TenantID = rec.ID
	p.TenantName = rec.Name

	s.invalidateAfterMutation(tenantID, p.ID)
	return p, nil
}

// Delete removes a policy inside a transaction and returns the removed row.
// A policy that is already gone yields ErrPolicyNotFound, never a hard
// failure.
func (s *PolicyService) Delete(ctx context.Context, tenantID string, policyID int) (*domain.Policy, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("policy.id", policyID),
		),
	)
	defer span.End()

	rec, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	var removed *domain.Policy
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.DeletePolicy(ctx, tx, policyID)
		if err != nil {
			return err
		}
		removed = p
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	removed.TenantID = rec.ID
	removed.TenantName = rec.Name

	s.invalidateAfterMutation(tenantID, policyID)
	return removed, nil
}

// PolicyTypes returns the tenant's policy-type lookup rows. Consumed by the
// UI layer for display-name resolution.
func (s *PolicyService) PolicyTypes(ctx context.Context, tenantID string) ([]domain.PolicyType, error) {
	tr := otel.Tracer("services/PolicyService")
	ctx, span := tr.Start(ctx, "PolicyTypes",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	_, db, err := s.open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	return repo.ListPolicyTypes(ctx, db)
}

// invalidateAfterMutation applies the invalidation policy after any
// create/update/delete: cross-tenant aggregate keys are parameterized by
// page/size/sort and cannot be enumerated cheaply, so the whole cache is
// wiped; the precise single-tenant lookup key IS known and is removed by
// name, which keeps the contract intact should the global wipe ever be
// narrowed to tagged invalidation.
func (s *PolicyService) invalidateAfterMutation(tenantID string, policyID int) {
	s.Cache.InvalidateAll()
	s.Cache.InvalidateKey(PolicyKey(tenantID, policyID))
}
