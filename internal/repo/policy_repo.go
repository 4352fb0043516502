// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Policy and
// PolicyType models. Every function is scoped to the single tenant behind the
// supplied *gorm.DB handle; no function ever resolves a tenant itself.
//
// Sorting policy: sortColumn is validated against an allow-list and an
// unrecognized column falls back to sorting by id. This is deliberate, not a
// silent bug — the cross-tenant fan-out must stay robust to consumers
// requesting sloppy sort keys, so a bad column is normalized rather than
// rejected. Any direction other than "desc" (case-insensitive) sorts
// ascending.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/coverlane/go-policy-admin/internal/domain"
)

// sortColumns maps the externally visible sort keys to ORDER BY expressions.
// policyTypeName sorts on the joined lookup table.
var sortColumns = map[string]string{
	"id":             "policies.id",
	"name":           "policies.name",
	"creationdate":   "policies.creation_date",
	"effectivedate":  "policies.effective_date",
	"expirydate":     "policies.expiry_date",
	"policytypeid":   "policies.policy_type_id",
	"policytypename": "policy_types.name",
	"isactive":       "policies.is_active",
}

// OrderClause resolves (sortColumn, sortDirection) into a deterministic SQL
// ORDER BY clause. Unknown columns normalize to policies.id; a secondary
// "policies.id ASC" keeps per-tenant ordering stable for equal keys.
func OrderClause(sortColumn, sortDirection string) string {
	col, ok := sortColumns[strings.ToLower(strings.TrimSpace(sortColumn))]
	if !ok {
		col = "policies.id"
	}
	dir := "ASC"
	if strings.EqualFold(strings.TrimSpace(sortDirection), "desc") {
		dir = "DESC"
	}
	if col == "policies.id" {
		return "policies.id " + dir
	}
	return col + " " + dir + ", policies.id ASC"
}

// policyQuery composes the base select with the policy-type join so that
// PolicyTypeName is projected onto each row.
func policyQuery(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Policy{}).
		Select("policies.*, policy_types.name AS policy_type_name").
		Joins("LEFT JOIN policy_types ON policy_types.id = policies.policy_type_id")
}

// ListPolicies returns one sorted page of this tenant's policies plus the
// tenant's total policy count.
//
// Pagination: skip = (page-1)*pageSize, take = pageSize. A page below 1 is
// clamped to 1. A pageSize of 0 or less means "unbounded" — the fan-out uses
// ListPolicies(ctx, db, 1, 0, ...) to pull a tenant's full sorted set.
func ListPolicies(ctx context.Context, db *gorm.DB, page, pageSize int, sortColumn, sortDirection string) ([]domain.Policy, int64, error) {
	if page < 1 {
		page = 1
	}

	var total int64
	if err := db.WithContext(ctx).Model(&domain.Policy{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := policyQuery(ctx, db).Order(OrderClause(sortColumn, sortDirection))
	if pageSize > 0 {
		q = q.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var out []domain.Policy
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetPolicy fetches one policy by its tenant-local ID, or ErrNotFound.
func GetPolicy(ctx context.Context, db *gorm.DB, id int) (*domain.Policy, error) {
	var p domain.Policy
	err := policyQuery(ctx, db).Where("policies.id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePolicy inserts a policy row. CreationDate is stamped here (UTC) so
// that the value is uniform regardless of caller.
func CreatePolicy(ctx context.Context, db *gorm.DB, p *domain.Policy) (*domain.Policy, error) {
	if p.CreationDate.IsZero() {
		p.CreationDate = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePolicy persists the mutable fields of an existing policy. Returns
// ErrNotFound when no row with p.ID exists.
func UpdatePolicy(ctx context.Context, db *gorm.DB, p *domain.Policy) error {
	res := db.WithContext(ctx).Model(&domain.Policy{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"name":           p.Name,
			"description":    p.Description,
			"effective_date": p.EffectiveDate,
			"expiry_date":    p.ExpiryDate,
			"is_active":      p.IsActive,
			"policy_type_id": p.PolicyTypeID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePolicy removes a policy and returns the removed row. A policy that is
// already gone yields ErrNotFound, never a hard failure.
func DeletePolicy(ctx context.Context, db *gorm.DB, id int) (*domain.Policy, error) {
	p, err := GetPolicy(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Delete(&domain.Policy{}, id).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// CountPolicies returns the tenant's total policy count.
func CountPolicies(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Policy{}).Count(&total).Error
	return total, err
}

// ListPolicyTypes returns the tenant's policy-type lookup rows ordered by id.
func ListPolicyTypes(ctx context.Context, db *gorm.DB) ([]domain.PolicyType, error) {
	var out []domain.PolicyType
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// GetPolicyType resolves one policy-type row by id, or ErrNotFound.
func GetPolicyType(ctx context.Context, db *gorm.DB, id int) (*domain.PolicyType, error) {
	var pt domain.PolicyType
	if err := db.WithContext(ctx).Where("id = ?", id).First(&pt).Error; err != nil {
		return nil, err
	}
	return &pt, nil
}
