// Package domain defines the persistence models for tenants, policies, and
// policy types. Tenant rows live in the master (directory) database; policy
// and policy-type rows live in each tenant's own database. The types here are
// mapped with GORM and form the core data layer of the policy administration
// backend.
package domain

import (
	"time"
)

// Tenant represents an onboarded customer organization. Each tenant owns an
// isolated database reached through ConnectionString; no policy data is ever
// stored in the master database.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), assigned at onboarding.
//   - Name: human-readable organization name.
//   - ConnectionString: opaque DSN for the tenant's own database. May be empty
//     only for the bootstrap/super-admin record, in which case the configured
//     default connection applies.
//   - DatabaseName: short tag identifying the physical database (diagnostics).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// Tenant records are immutable once created and are passed by value to
// consumers for the duration of a single operation.
type Tenant struct {
	ID               string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Name             string    `json:"name"          gorm:"type:varchar(255);not null"`
	ConnectionString string    `json:"-"             gorm:"type:varchar(512)"`
	DatabaseName     string    `json:"database_name" gorm:"type:varchar(128)"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the master database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// PolicyType is the lookup table for policy categories (e.g. "Motor",
// "Marine", "Property"). It lives in every tenant database so that policy
// rows can reference it locally.
type PolicyType struct {
	ID        int       `json:"id"   gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(128);not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PolicyType.
func (PolicyType) TableName() string { return "policy_types" }

// Policy represents an insurance policy inside one tenant's database. IDs are
// autoincremented per tenant database and are therefore NOT globally unique;
// a policy is only identified unambiguously by (TenantID, ID).
//
// EffectiveDate <= ExpiryDate is enforced by the consuming UI, not by this
// layer; readers must not assume it holds.
//
// TenantID and TenantName are denormalized onto the record after a fetch (the
// owning tenant is otherwise only known by which database the row came from).
// They are never persisted. PolicyTypeName is a read-only projection of the
// joined policy_types.name column.
type Policy struct {
	ID            int        `json:"id"             gorm:"primaryKey;autoIncrement"`
	Name          string     `json:"name"           gorm:"type:varchar(255);not null"`
	Description   string     `json:"description"    gorm:"type:text"`
	CreationDate  time.Time  `json:"creation_date"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    time.Time  `json:"expiry_date"`
	IsActive      bool       `json:"is_active"      gorm:"not null;default:true"`
	PolicyTypeID  int        `json:"policy_type_id" gorm:"not null;index"`
	PolicyType    PolicyType `json:"-"              gorm:"foreignKey:PolicyTypeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`

	// Joined projection, populated by list queries only.
	PolicyTypeName string `json:"policy_type_name,omitempty" gorm:"->;-:migration"`

	// Denormalized owner, populated after fetch. Never persisted.
	TenantID   string `json:"tenant_id,omitempty"   gorm:"-"`
	TenantName string `json:"tenant_name,omitempty" gorm:"-"`
}

// TableName returns the database table name for Policy.
func (Policy) TableName() string { return "policies" }

// AggregatedPolicyPage is one page of the cross-tenant policy listing used by
// the super-admin role. It is constructed fresh on every aggregation call (or
// served from cache) and never mutated after construction.
type AggregatedPolicyPage struct {
	Policies   []Policy `json:"policies"`
	TotalCount int64    `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}
