// Package services – Aggregator
//
// This file implements the cross-tenant aggregation used by the super-admin
// role: one paginated, globally sorted policy listing assembled from every
// tenant's database. No single query can span the tenant databases, so the
// aggregator fans out one query per tenant, merges the results in memory,
// re-sorts globally, and paginates.
//
// Failure semantics: a directory failure is fatal (no tenants known); a
// single tenant's failure is not — that tenant contributes an empty set, the
// error is logged and counted, and the page is assembled from the tenants
// that answered. Fan-out latency is therefore bounded by the slowest tenant,
// not the sum of all tenants.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/coverlane/go-policy-admin/internal/cache"
	"github.com/coverlane/go-policy-admin/internal/domain"
	"github.com/coverlane/go-policy-admin/internal/repo"
	"github.com/coverlane/go-policy-admin/internal/tenant"
)

var (
	fanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policy_aggregation_fanout_seconds",
		Help:    "Wall time of the cross-tenant fan-out, barrier included.",
		Buckets: prometheus.DefBuckets,
	})
	tenantFetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_aggregation_tenant_failures_total",
		Help: "Per-tenant fetch failures swallowed during fan-out.",
	}, []string{"tenant"})
)

func init() {
	prometheus.MustRegister(fanoutDuration, tenantFetchFailures)
}

// aggregateCountKey caches the cross-tenant total independently of the page
// key, preserving its separate TTL/cacheability.
const aggregateCountKey = "policies:all:count"

// aggregateKey is the cache key for one cross-tenant page.
func aggregateKey(page, pageSize int, sortColumn, sortDirection string) string {
	return fmt.Sprintf("policies:all:p%d:s%d:%s:%s",
		page, pageSize,
		strings.ToLower(strings.TrimSpace(sortColumn)),
		strings.ToLower(strings.TrimSpace(sortDirection)))
}

// tenantResult is the per-task outcome of the fan-out: either that tenant's
// tagged policy set or a captured error. One task's failure never tears down
// the others.
type tenantResult struct {
	policies []domain.Policy
	err      error
}

// Aggregator assembles the cross-tenant policy listing.
type Aggregator struct {
	// Directory lists the tenants to fan out over.
	Directory *tenant.Directory

	// Cache is the shared process-wide cache.
	Cache *cache.MemoryCache

	// DefaultDSN backs tenant records without a connection string.
	DefaultDSN string

	// TTL bounds cross-tenant page and count cache entries.
	TTL time.Duration
}

// collator orders name columns case-insensitively with locale-aware rules,
// matching what the per-tenant SQL collation approximates.
var collator = collate.New(language.English, collate.IgnoreCase)

// GetPoliciesAcrossTenants returns one page of the globally sorted,
// cross-tenant policy listing. pageSize must be at least 1; page below 1 is
// clamped to 1. The returned page and the total count are cached under
// distinct keys with the cross-tenant TTL.
func (a *Aggregator) GetPoliciesAcrossTenants(ctx context.Context, page, pageSize int, sortColumn, sortDirection string) (*domain.AggregatedPolicyPage, error) {
	tr := otel.Tracer("services/Aggregator")
	ctx, span := tr.Start(ctx, "GetPoliciesAcrossTenants",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
			attribute.String("sort.column", sortColumn),
			attribute.String("sort.direction", sortDirection),
		),
	)
	defer span.End()

	if pageSize < 1 {
		return nil, ErrInvalidPagination
	}
	if page < 1 {
		page = 1
	}

	key := aggregateKey(page, pageSize, sortColumn, sortDirection)
	if v, found := a.Cache.TryGet(key); found {
		if p, ok := v.(domain.AggregatedPolicyPage); ok {
			out := p
			return &out, nil
		}
	}

	tenants, err := a.Directory.GetAll(ctx)
	if err != nil {
		// Directory down: fatal, there is no tenant set to aggregate over.
		return nil, err
	}
	if len(tenants) == 0 {
		return &domain.AggregatedPolicyPage{
			Policies:   []domain.Policy{},
			TotalCount: 0,
			Page:       page,
			PageSize:   pageSize,
		}, nil
	}

	merged := a.fanOut(ctx, tenants, sortColumn, sortDirection)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortPolicies(merged, sortColumn, sortDirection)

	total := int64(len(merged))
	pageItems := paginate(merged, page, pageSize)

	result := domain.AggregatedPolicyPage{
		Policies:   pageItems,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}
	a.Cache.Set(key, result, a.TTL)
	a.Cache.Set(aggregateCountKey, total, a.TTL)

	out := result
	return &out, nil
}

// TotalCount returns the cross-tenant policy count, serving the separately
// cached value when present and running a fresh fan-out otherwise.
func (a *Aggregator) TotalCount(ctx context.Context) (int64, error) {
	if v, found := a.Cache.TryGet(aggregateCountKey); found {
		if n, ok := v.(int64); ok {
			return n, nil
		}
	}
	p, err := a.GetPoliciesAcrossTenants(ctx, 1, 1, "id", "asc")
	if err != nil {
		return 0, err
	}
	return p.TotalCount, nil
}

// fanOut issues one query per tenant concurrently and waits for every tenant
// to answer or fail (fan-in barrier). Results are concatenated in directory
// order so that the later stable sort tie-breaks deterministically.
func (a *Aggregator) fanOut(ctx context.Context, tenants []domain.Tenant, sortColumn, sortDirection string) []domain.Policy {
	start := time.Now()
	defer func() { fanoutDuration.Observe(time.Since(start).Seconds()) }()

	results := make([]tenantResult, len(tenants))
	g, gctx := errgroup.WithContext(ctx)

	for i, t := range tenants {
		g.Go(func() error {
			defer func() {
				// A panic in one branch must not tear down the siblings.
				if r := recover(); r != nil {
					results[i] = tenantResult{err: fmt.Errorf("panic fetching tenant %s: %v", t.ID, r)}
				}
			}()
			policies, err := a.fetchTenant(gctx, t, sortColumn, sortDirection)
			results[i] = tenantResult{policies: policies, err: err}
			return nil
		})
	}
	// Tasks always return nil; Wait is purely the fan-in barrier.
	_ = g.Wait()

	var merged []domain.Policy
	for i, r := range results {
		if r.err != nil {
			// Degrade gracefully: log, count, contribute nothing.
			log.Warn().Err(r.err).Str("tenant_id", tenants[i].ID).Msg("tenant fetch failed during aggregation")
			tenantFetchFailures.WithLabelValues(tenants[i].ID).Inc()
			continue
		}
		merged = append(merged, r.policies...)
	}
	return merged
}

// fetchTenant opens the tenant's own data context, pulls its full sorted
// policy set, and tags each row with the owning tenant.
func (a *Aggregator) fetchTenant(ctx context.Context, t domain.Tenant, sortColumn, sortDirection string) ([]domain.Policy, error) {
	db, err := repo.OpenTenant(t, a.DefaultDSN)
	if err != nil {
		return nil, err
	}
	defer repo.Close(db)

	policies, _, err := repo.ListPolicies(ctx, db, 1, 0, sortColumn, sortDirection)
	if err != nil {
		return nil, err
	}
	tag(policies, t)
	return policies, nil
}

// sortPolicies re-sorts the concatenated sequence globally with the same
// column semantics as the per-tenant SQL sort. Concatenating already-sorted
// per-tenant lists does not yield a global order, so this pass is mandatory.
// The sort is stable: equal keys keep their insertion order.
func sortPolicies(policies []domain.Policy, sortColumn, sortDirection string) {
	desc := strings.EqualFold(strings.TrimSpace(sortDirection), "desc")

	less := lessFunc(sortColumn)
	sort.SliceStable(policies, func(i, j int) bool {
		if desc {
			return less(policies[j], policies[i])
		}
		return less(policies[i], policies[j])
	})
}

// lessFunc maps a sort column to a strict-less comparator. Unknown columns
// fall back to id, mirroring the repository's allow-list policy.
func lessFunc(sortColumn string) func(a, b domain.Policy) bool {
	switch strings.ToLower(strings.TrimSpace(sortColumn)) {
	case "name":
		return func(a, b domain.Policy) bool { return collator.CompareString(a.Name, b.Name) < 0 }
	case "creationdate":
		return func(a, b domain.Policy) bool { return a.CreationDate.Before(b.CreationDate) }
	case "effectivedate":
		return func(a, b domain.Policy) bool { return a.EffectiveDate.Before(b.EffectiveDate) }
	case "expirydate":
		return func(a, b domain.Policy) bool { return a.ExpiryDate.Before(b.ExpiryDate) }
	case "policytypeid":
		return func(a, b domain.Policy) bool { return a.PolicyTypeID < b.PolicyTypeID }
	case "policytypename":
		return func(a, b domain.Policy) bool {
			return collator.CompareString(a.PolicyTypeName, b.PolicyTypeName) < 0
		}
	case "isactive":
		return func(a, b domain.Policy) bool { return !a.IsActive && b.IsActive }
	default: // "id" and anything unrecognized
		return func(a, b domain.Policy) bool { return a.ID < b.ID }
	}
}

// paginate applies skip = (page-1)*pageSize, take = pageSize to the globally
// sorted sequence. A page past the end yields an empty (non-nil) slice.
func paginate(policies []domain.Policy, page, pageSize int) []domain.Policy {
	skip := (page - 1) * pageSize
	if skip >= len(policies) {
		return []domain.Policy{}
	}
	end := skip + pageSize
	if end > len(policies) {
		end = len(policies)
	}
	out := make([]domain.Policy, end-skip)
	copy(out, policies[skip:end])
	return out
}
