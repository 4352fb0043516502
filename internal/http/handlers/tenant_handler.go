// Tenant HTTP handlers.
//
// This file exposes the read-only tenant directory endpoints:
//   - GET /tenants          (list all registered tenants)
//   - GET /tenants/{id}     (fetch one tenant record)
//
// Connection strings never leave the server; the domain model excludes them
// from JSON serialization.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coverlane/go-policy-admin/internal/domain"
)

// ListTenants godoc
// @ID          listTenants
// @Summary     List tenants
// @Description Returns every registered tenant, ordered by name.
// @Tags        Tenants
// @Produce     json
//
// @Success     200  {array}  domain.Tenant
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Failure     503  {object} handlers.ErrorResponse "Tenant directory unavailable"
// @Router      /tenants [get]
func (h *Handlers) ListTenants(c *gin.Context) {
	tenants, err := h.tenantSvc.GetAll(c.Request.Context())
	if err != nil {
		failPolicyError(c, err, ErrCodeListFailed)
		return
	}
	if tenants == nil {
		tenants = []domain.Tenant{}
	}
	ok(c, http.StatusOK, tenants)
}

// GetTenant godoc
// @ID          getTenant
// @Summary     Fetch one tenant
// @Description Returns one tenant record by id. The connection string is never serialized.
// @Tags        Tenants
// @Produce     json
//
// @Param       id  path  string  true  "Tenant ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Tenant
// @Failure     404  {object} handlers.ErrorResponse "Tenant not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /tenants/{id} [get]
func (h *Handlers) GetTenant(c *gin.Context) {
	rec, err := h.tenantSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPolicyError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, rec)
}
