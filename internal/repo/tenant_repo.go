// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Tenant
// model held in the master database (the tenant system-of-record).
//
// All reads are "no tracking" in the EF sense: plain selects into fresh
// structs, nothing retained. Error semantics follow the package convention:
// ErrNotFound for a missing row, the raw gorm error for backend failures so
// callers can distinguish "no tenants exist" from "directory unavailable".
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coverlane/go-policy-admin/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ListTenants returns every tenant record, ordered by name for stable
// listings. An empty result with a nil error means no tenants exist; an error
// means the directory store itself is unavailable.
func ListTenants(ctx context.Context, db *gorm.DB) ([]domain.Tenant, error) {
	var out []domain.Tenant
	err := db.WithContext(ctx).Order("name ASC, id ASC").Find(&out).Error
	return out, err
}

// GetTenant fetches one tenant by ID, or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a tenant record at onboarding time. When id is empty a
// UUID is generated. Records are immutable after creation; there is
// deliberately no UpdateTenant.
func CreateTenant(ctx context.Context, db *gorm.DB, id, name, connectionString, databaseName string) (*domain.Tenant, error) {
	if id == "" {
		id = uuid.NewString()
	}
	t := &domain.Tenant{
		ID:               id,
		Name:             name,
		ConnectionString: connectionString,
		DatabaseName:     databaseName,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}
