// Policy HTTP handlers.
//
// This file exposes REST endpoints for policy resources:
//   - GET    /policies                            (cross-tenant, paginated, sorted)
//   - GET    /tenants/{id}/policies               (list, paginated, sorted)
//   - POST   /tenants/{id}/policies               (create)
//   - GET    /tenants/{id}/policies/{policyId}    (fetch one)
//   - PUT    /tenants/{id}/policies/{policyId}    (update)
//   - DELETE /tenants/{id}/policies/{policyId}    (delete, returns removed row)
//   - GET    /tenants/{id}/policy-types           (lookup table)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Policy ids are tenant-local, so
// every policy route is scoped by the owning tenant id.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coverlane/go-policy-admin/internal/domain"
	"github.com/coverlane/go-policy-admin/internal/services"
	"github.com/coverlane/go-policy-admin/internal/tenant"
	"github.com/coverlane/go-policy-admin/internal/utils"
)

//
// Service contracts (context-aware)
//

// PolicyService defines the tenant-scoped policy operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PolicyService interface {
	// List returns one sorted page of the tenant's policies and the total count.
	List(ctx context.Context, tenantID string, page, pageSize int, sortColumn, sortDirection string) ([]domain.Policy, int64, error)
	// Get returns one policy by its tenant-local id.
	Get(ctx context.Context, tenantID string, policyID int) (*domain.Policy, error)
	// Create inserts a new policy into the tenant's database.
	Create(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error)
	// Update persists changes to an existing policy.
	Update(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error)
	// Delete removes a policy and returns the removed row.
	Delete(ctx context.Context, tenantID string, policyID int) (*domain.Policy, error)
	// PolicyTypes returns the tenant's policy-type lookup rows.
	PolicyTypes(ctx context.Context, tenantID string) ([]domain.PolicyType, error)
}

// AggregatorService defines the cross-tenant listing consumed by the
// super-admin endpoint.
type AggregatorService interface {
	// GetPoliciesAcrossTenants returns one globally sorted page assembled
	// from every tenant's database.
	GetPoliciesAcrossTenants(ctx context.Context, page, pageSize int, sortColumn, sortDirection string) (*domain.AggregatedPolicyPage, error)
}

// TenantService defines the tenant directory lookups consumed by HTTP
// handlers.
type TenantService interface {
	// GetByID resolves one tenant record by id.
	GetByID(ctx context.Context, id string) (domain.Tenant, error)
	// GetAll returns every registered tenant.
	GetAll(ctx context.Context) ([]domain.Tenant, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for tenants and policies. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	policySvc PolicyService
	aggSvc    AggregatorService
	tenantSvc TenantService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(policySvc PolicyService, aggSvc AggregatorService, tenantSvc TenantService) *Handlers {
	return &Handlers{policySvc: policySvc, aggSvc: aggSvc, tenantSvc: tenantSvc}
}

//
// DTOs
//

// PolicyRequest is the JSON payload for creating or updating a policy.
type PolicyRequest struct {
	// Name is the display name of the policy (1–255 chars).
	Name string `json:"name" binding:"required,min=1,max=255" example:"Fleet liability 2026"`
	// Description optionally documents the policy.
	Description string `json:"description" example:"Annual fleet liability cover"`
	// EffectiveDate is when cover starts (RFC 3339).
	EffectiveDate time.Time `json:"effective_date" example:"2026-01-01T00:00:00Z"`
	// ExpiryDate is when cover ends (RFC 3339).
	ExpiryDate time.Time `json:"expiry_date" example:"2027-01-01T00:00:00Z"`
	// IsActive marks the policy as currently in force.
	IsActive bool `json:"is_active" example:"true"`
	// PolicyTypeID references the tenant's policy-type lookup table.
	PolicyTypeID int `json:"policy_type_id" binding:"required,min=1" example:"1"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPoliciesResponse wraps a page of policies and pagination information.
// It is shared by the tenant-scoped and the cross-tenant listing.
type ListPoliciesResponse struct {
	Policies   []domain.Policy `json:"policies"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// sortParams reads the sort column and direction query params. Unknown columns
// and directions are resolved downstream (column allow-list with id fallback,
// non-"desc" treated as ascending), so no validation happens here.
func sortParams(c *gin.Context) (column, direction string) {
	column = strings.TrimSpace(c.DefaultQuery("sort_by", "id"))
	direction = strings.TrimSpace(c.DefaultQuery("sort_dir", "asc"))
	return
}

// policyID parses the tenant-local policy id path param.
func policyID(c *gin.Context) (int, bool) {
	id := utils.AtoiDefault(c.Param("policyId"), 0)
	if id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "policy id must be a positive integer")
		return 0, false
	}
	return id, true
}

// failPolicyError translates service-layer errors into the HTTP error
// envelope. fallbackCode is used for errors with no specific mapping.
func failPolicyError(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "tenant not found")
	case errors.Is(err, tenant.ErrDirectoryUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "tenant directory unavailable")
	case errors.Is(err, services.ErrPolicyNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "policy not found")
	case errors.Is(err, services.ErrInvalidPagination):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "page_size must be at least 1")
	case errors.Is(err, services.ErrInvalidPolicy):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "policy requires a name and a policy type")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

// toPolicy maps the request DTO onto a domain policy. id is zero for creates.
func (r PolicyRequest) toPolicy(id int) *domain.Policy {
	return &domain.Policy{
		ID:            id,
		Name:          strings.TrimSpace(r.Name),
		Description:   strings.TrimSpace(r.Description),
		EffectiveDate: r.EffectiveDate,
		ExpiryDate:    r.ExpiryDate,
		IsActive:      r.IsActive,
		PolicyTypeID:  r.PolicyTypeID,
	}
}

// listResponse assembles the shared list envelope.
func listResponse(items []domain.Policy, total int64, page, pageSize int) ListPoliciesResponse {
	if items == nil {
		items = []domain.Policy{}
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return ListPoliciesResponse{
		Policies: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
}

//
// Handlers
//

// ListPolicies godoc
// @ID          listPolicies
// @Summary     List a tenant's policies (paginated)
// @Description Returns one sorted page of the tenant's policies together with the tenant's total count.
// @Tags        Policies
// @Produce     json
//
// @Param       id         path    string  true  "Tenant ID (UUID)"  format(uuid)
// @Param       page       query   int     false "Page number"       minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"    minimum(1) maximum(100) default(20)
// @Param       sort_by    query   string  false "Sort column"       Enums(id, name, creationDate, effectiveDate, expiryDate, policyTypeId, policyTypeName, isActive) default(id)
// @Param       sort_dir   query   string  false "Sort direction"    Enums(asc, desc) default(asc)
//
// @Success     200  {object} handlers.ListPoliciesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Tenant not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policies [get]
func (h *Handlers) ListPolicies(c *gin.Context) {
	page, pageSize := clampPagination(c)
	col, dir := sortParams(c)

	items, total, err := h.policySvc.List(c.Request.Context(), c.Param("id"), page, pageSize, col, dir)
	if err != nil {
		failPolicyError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, listResponse(items, total, page, pageSize))
}

// ListAllPolicies godoc
// @ID          listAllPolicies
// @Summary     List policies across all tenants (paginated)
// @Description Returns one globally sorted page assembled from every tenant's database. Tenants that fail to answer are skipped; the page is built from the tenants that responded.
// @Tags        Policies
// @Produce     json
//
// @Param       page       query   int     false "Page number"       minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"    minimum(1) maximum(100) default(20)
// @Param       sort_by    query   string  false "Sort column"       Enums(id, name, creationDate, effectiveDate, expiryDate, policyTypeId, policyTypeName, isActive) default(id)
// @Param       sort_dir   query   string  false "Sort direction"    Enums(asc, desc) default(asc)
//
// @Success     200  {object} handlers.ListPoliciesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Failure     503  {object} handlers.ErrorResponse "Tenant directory unavailable"
// @Router      /policies [get]
func (h *Handlers) ListAllPolicies(c *gin.Context) {
	page, pageSize := clampPagination(c)
	col, dir := sortParams(c)

	res, err := h.aggSvc.GetPoliciesAcrossTenants(c.Request.Context(), page, pageSize, col, dir)
	if err != nil {
		failPolicyError(c, err, ErrCodeAggregateFailed)
		return
	}
	ok(c, http.StatusOK, listResponse(res.Policies, res.TotalCount, res.Page, res.PageSize))
}

// GetPolicy godoc
// @ID          getPolicy
// @Summary     Fetch one policy
// @Description Returns one policy by its tenant-local id, denormalized with the owning tenant.
// @Tags        Policies
// @Produce     json
//
// @Param       id        path  string  true  "Tenant ID (UUID)"          format(uuid)
// @Param       policyId  path  int     true  "Policy ID (tenant-local)"  minimum(1)
//
// @Success     200  {object} domain.Policy
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Tenant or policy not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policies/{policyId} [get]
func (h *Handlers) GetPolicy(c *gin.Context) {
	id, okID := policyID(c)
	if !okID {
		return
	}

	p, err := h.policySvc.Get(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		failPolicyError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, p)
}

// CreatePolicy godoc
// @ID          createPolicy
// @Summary     Create a policy
// @Description Creates a policy in the tenant's database and returns the created resource with its tenant-local id.
// @Tags        Policies
// @Accept      json
// @Produce     json
//
// @Param       id        path  string                   true  "Tenant ID (UUID)"  format(uuid)
// @Param       body      body  handlers.PolicyRequest   true  "Policy payload"
//
// @Success     201  {object} domain.Policy
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Tenant not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policies [post]
func (h *Handlers) CreatePolicy(c *gin.Context) {
	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.policySvc.Create(c.Request.Context(), c.Param("id"), req.toPolicy(0))
	if err != nil {
		failPolicyError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, p)
}

// UpdatePolicy godoc
// @ID          updatePolicy
// @Summary     Update a policy
// @Description Updates an existing policy in the tenant's database and returns the updated resource.
// @Tags        Policies
// @Accept      json
// @Produce     json
//
// @Param       id        path  string                   true  "Tenant ID (UUID)"          format(uuid)
// @Param       policyId  path  int                      true  "Policy ID (tenant-local)"  minimum(1)
// @Param       body      body  handlers.PolicyRequest   true  "Policy payload"
//
// @Success     200  {object} domain.Policy
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Tenant or policy not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policies/{policyId} [put]
func (h *Handlers) UpdatePolicy(c *gin.Context) {
	id, okID := policyID(c)
	if !okID {
		return
	}

	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.policySvc.Update(c.Request.Context(), c.Param("id"), req.toPolicy(id))
	if err != nil {
		failPolicyError(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeletePolicy godoc
// @ID          deletePolicy
// @Summary     Delete a policy
// @Description Deletes a policy from the tenant's database and returns the removed resource.
// @Tags        Policies
// @Produce     json
//
// @Param       id        path  string  true  "Tenant ID (UUID)"          format(uuid)
// @Param       policyId  path  int     true  "Policy ID (tenant-local)"  minimum(1)
//
// @Success     200  {object} domain.Policy
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Tenant or policy not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policies/{policyId} [delete]
func (h *Handlers) DeletePolicy(c *gin.Context) {
	id, okID := policyID(c)
	if !okID {
		return
	}

	p, err := h.policySvc.Delete(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		failPolicyError(c, err, ErrCodeDeleteFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// ListPolicyTypes godoc
// @ID          listPolicyTypes
// @Summary     List a tenant's policy types
// @Description Returns the tenant's policy-type lookup rows for display-name resolution.
// @Tags        Policies
// @Produce     json
//
// @Param       id        path  string  true  "Tenant ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.PolicyType
// @Failure     404  {object} handlers.ErrorResponse "Tenant not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id}/policy-types [get]
func (h *Handlers) ListPolicyTypes(c *gin.Context) {
	types, err := h.policySvc.PolicyTypes(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPolicyError(c, err, ErrCodeListFailed)
		return
	}
	if types == nil {
		types = []domain.PolicyType{}
	}
	ok(c, http.StatusOK, types)
}
