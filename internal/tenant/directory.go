// Package tenant implements the tenant directory: the component that resolves
// a tenant identifier to its record (including the connection string backing
// that tenant's database) and can list every onboarded tenant.
//
// Reads go through the shared cache with a bounded TTL; the master database
// is only touched on a miss. A full GetAll re-populates the per-tenant cache
// entries as a side effect so subsequent single lookups hit.
//
// Failure semantics matter here: an unreachable directory store surfaces
// ErrDirectoryUnavailable so callers can distinguish "no tenants exist"
// (empty slice, nil error) from "directory down" (fatal to any cross-tenant
// operation).
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/coverlane/go-policy-admin/internal/cache"
	"github.com/coverlane/go-policy-admin/internal/domain"
	"github.com/coverlane/go-policy-admin/internal/repo"
)

var (
	// ErrTenantNotFound indicates the requested tenant id is not onboarded.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrDirectoryUnavailable indicates the master store could not be
	// queried. Transient; callers must not treat it as an empty directory.
	ErrDirectoryUnavailable = errors.New("tenant directory unavailable")
)

const allTenantsKey = "tenants:all"

// Key returns the cache key for a single tenant record.
func Key(id string) string { return "tenant:" + id }

// Directory resolves and lists tenant records, caching results in the shared
// process-wide cache.
type Directory struct {
	// DB is the long-lived master database handle.
	DB *gorm.DB

	// Cache is the shared cache instance; entries use TTL below.
	Cache *cache.MemoryCache

	// TTL bounds how long directory entries are served from cache.
	TTL time.Duration
}

// GetByID resolves one tenant record. Cached; on a miss it loads from the
// master store and populates the cache. Returns ErrTenantNotFound for an
// unknown id and ErrDirectoryUnavailable when the store cannot be queried.
func (d *Directory) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	tr := otel.Tracer("tenant/Directory")
	ctx, span := tr.Start(ctx, "GetByID",
		trace.WithAttributes(attribute.String("tenant.id", id)),
	)
	defer span.End()

	if v, found := d.Cache.TryGet(Key(id)); found {
		if t, ok := v.(domain.Tenant); ok {
			return t, nil
		}
	}

	rec, err := repo.GetTenant(ctx, d.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Tenant{}, ErrTenantNotFound
		}
		return domain.Tenant{}, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	t := *rec
	d.Cache.Set(Key(id), t, d.TTL)
	return t, nil
}

// GetAll returns every tenant record. The full list is cached under a single
// entry; a miss reloads from the store and re-populates the per-tenant
// entries as a side effect. An empty directory is a valid result, not an
// error.
func (d *Directory) GetAll(ctx context.Context) ([]domain.Tenant, error) {
	tr := otel.Tracer("tenant/Directory")
	ctx, span := tr.Start(ctx, "GetAll")
	defer span.End()

	if v, found := d.Cache.TryGet(allTenantsKey); found {
		if list, ok := v.([]domain.Tenant); ok {
			return list, nil
		}
	}

	list, err := repo.ListTenants(ctx, d.DB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	d.Cache.Set(allTenantsKey, list, d.TTL)
	for _, t := range list {
		d.Cache.Set(Key(t.ID), t, d.TTL)
	}
	return list, nil
}
