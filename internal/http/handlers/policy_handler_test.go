package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/coverlane/go-policy-admin/internal/domain"
	"github.com/coverlane/go-policy-admin/internal/services"
	"github.com/coverlane/go-policy-admin/internal/tenant"
)

//
// Service stubs
//

type stubPolicySvc struct {
	listFn   func(ctx context.Context, tenantID string, page, pageSize int, col, dir string) ([]domain.Policy, int64, error)
	getFn    func(ctx context.Context, tenantID string, id int) (*domain.Policy, error)
	createFn func(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error)
	updateFn func(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error)
	deleteFn func(ctx context.Context, tenantID string, id int) (*domain.Policy, error)
	typesFn  func(ctx context.Context, tenantID string) ([]domain.PolicyType, error)
}

func (s *stubPolicySvc) List(ctx context.Context, tenantID string, page, pageSize int, col, dir string) ([]domain.Policy, int64, error) {
	return s.listFn(ctx, tenantID, page, pageSize, col, dir)
}

func (s *stubPolicySvc) Get(ctx context.Context, tenantID string, id int) (*domain.Policy, error) {
	return s.getFn(ctx, tenantID, id)
}

func (s *stubPolicySvc) Create(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error) {
	return s.createFn(ctx, tenantID, p)
}

func (s *stubPolicySvc) Update(ctx context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error) {
	return s.updateFn(ctx, tenantID, p)
}

func (s *stubPolicySvc) Delete(ctx context.Context, tenantID string, id int) (*domain.Policy, error) {
	return s.deleteFn(ctx, tenantID, id)
}

func (s *stubPolicySvc) PolicyTypes(ctx context.Context, tenantID string) ([]domain.PolicyType, error) {
	return s.typesFn(ctx, tenantID)
}

type stubAggSvc struct {
	fn func(ctx context.Context, page, pageSize int, col, dir string) (*domain.AggregatedPolicyPage, error)
}

func (s *stubAggSvc) GetPoliciesAcrossTenants(ctx context.Context, page, pageSize int, col, dir string) (*domain.AggregatedPolicyPage, error) {
	return s.fn(ctx, page, pageSize, col, dir)
}

type stubTenantSvc struct {
	byIDFn func(ctx context.Context, id string) (domain.Tenant, error)
	allFn  func(ctx context.Context) ([]domain.Tenant, error)
}

func (s *stubTenantSvc) GetByID(ctx context.Context, id string) (domain.Tenant, error) {
	return s.byIDFn(ctx, id)
}

func (s *stubTenantSvc) GetAll(ctx context.Context) ([]domain.Tenant, error) {
	return s.allFn(ctx)
}

// newTestRouter mounts the handlers on the same route shapes as the real
// router, without the middleware stack.
func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/policies", h.ListAllPolicies)
	r.GET("/tenants", h.ListTenants)
	r.GET("/tenants/:id", h.GetTenant)
	r.GET("/tenants/:id/policies", h.ListPolicies)
	r.POST("/tenants/:id/policies", h.CreatePolicy)
	r.GET("/tenants/:id/policies/:policyId", h.GetPolicy)
	r.PUT("/tenants/:id/policies/:policyId", h.UpdatePolicy)
	r.DELETE("/tenants/:id/policies/:policyId", h.DeletePolicy)
	r.GET("/tenants/:id/policy-types", h.ListPolicyTypes)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func somePolicies(n int) []domain.Policy {
	out := make([]domain.Policy, n)
	for i := range out {
		out[i] = domain.Policy{ID: i + 1, Name: fmt.Sprintf("Pol-%02d", i+1), PolicyTypeID: 1, TenantID: "ta", TenantName: "Alpha"}
	}
	return out
}

//
// Tenant-scoped listing
//

func TestListPolicies_EnvelopeAndParamPassing(t *testing.T) {
	var gotTenant, gotCol, gotDir string
	var gotPage, gotSize int
	svc := &stubPolicySvc{
		listFn: func(_ context.Context, tenantID string, page, pageSize int, col, dir string) ([]domain.Policy, int64, error) {
			gotTenant, gotPage, gotSize, gotCol, gotDir = tenantID, page, pageSize, col, dir
			return somePolicies(20), 45, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ta/policies?page=2&page_size=20&sort_by=name&sort_dir=desc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotTenant != "ta" || gotPage != 2 || gotSize != 20 || gotCol != "name" || gotDir != "desc" {
		t.Fatalf("params not passed through: %s %d %d %s %s", gotTenant, gotPage, gotSize, gotCol, gotDir)
	}

	var resp ListPoliciesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 45 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected pagination: %+v", resp.Pagination)
	}
	if len(resp.Policies) != 20 || resp.Policies[0].TenantName != "Alpha" {
		t.Fatalf("unexpected page: %d items", len(resp.Policies))
	}
}

func TestListPolicies_ClampsBadQueryParams(t *testing.T) {
	var gotPage, gotSize int
	svc := &stubPolicySvc{
		listFn: func(_ context.Context, _ string, page, pageSize int, _, _ string) ([]domain.Policy, int64, error) {
			gotPage, gotSize = page, pageSize
			return nil, 0, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ta/policies?page=-3&page_size=9999", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if gotPage != 1 || gotSize != 100 {
		t.Fatalf("expected clamp to page=1 size=100, got %d/%d", gotPage, gotSize)
	}

	// nil items must serialize as an empty array, not null
	if !strings.Contains(w.Body.String(), `"policies":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestListPolicies_TenantNotFound(t *testing.T) {
	svc := &stubPolicySvc{
		listFn: func(context.Context, string, int, int, string, string) ([]domain.Policy, int64, error) {
			return nil, 0, tenant.ErrTenantNotFound
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ghost/policies", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeNotFound {
		t.Fatalf("unexpected code %q", er.Code)
	}
}

//
// Cross-tenant listing
//

func TestListAllPolicies_WrapsAggregatedPage(t *testing.T) {
	agg := &stubAggSvc{
		fn: func(_ context.Context, page, pageSize int, col, dir string) (*domain.AggregatedPolicyPage, error) {
			return &domain.AggregatedPolicyPage{
				Policies:   somePolicies(3),
				TotalCount: 8,
				Page:       page,
				PageSize:   pageSize,
			}, nil
		},
	}
	r := newTestRouter(New(nil, agg, nil))

	w := do(r, http.MethodGet, "/policies?page=1&page_size=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListPoliciesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 8 || resp.Pagination.TotalPages != 3 || len(resp.Policies) != 3 {
		t.Fatalf("unexpected response: %+v", resp.Pagination)
	}
}

func TestListAllPolicies_DirectoryUnavailable(t *testing.T) {
	agg := &stubAggSvc{
		fn: func(context.Context, int, int, string, string) (*domain.AggregatedPolicyPage, error) {
			return nil, fmt.Errorf("%w: dial failed", tenant.ErrDirectoryUnavailable)
		},
	}
	r := newTestRouter(New(nil, agg, nil))

	w := do(r, http.MethodGet, "/policies", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

//
// Point lookup
//

func TestGetPolicy_HappyAndBadID(t *testing.T) {
	svc := &stubPolicySvc{
		getFn: func(_ context.Context, tenantID string, id int) (*domain.Policy, error) {
			return &domain.Policy{ID: id, Name: "Pol-01", TenantID: tenantID}, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ta/policies/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var p domain.Policy
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil || p.ID != 7 {
		t.Fatalf("unexpected body: %s err=%v", w.Body.String(), err)
	}

	for _, bad := range []string{"abc", "0", "-4"} {
		w := do(r, http.MethodGet, "/tenants/ta/policies/"+bad, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q: status=%d, want 400", bad, w.Code)
		}
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	svc := &stubPolicySvc{
		getFn: func(context.Context, string, int) (*domain.Policy, error) {
			return nil, services.ErrPolicyNotFound
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ta/policies/404", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

//
// Mutations
//

func TestCreatePolicy_ValidatesBody(t *testing.T) {
	svc := &stubPolicySvc{
		createFn: func(_ context.Context, tenantID string, p *domain.Policy) (*domain.Policy, error) {
			p.ID = 11
			p.TenantID = tenantID
			return p, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	// Malformed JSON
	w := do(r, http.MethodPost, "/tenants/ta/policies", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}

	// Missing required fields (binding)
	w = do(r, http.MethodPost, "/tenants/ta/policies", `{"description":"no name or type"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: status=%d", w.Code)
	}

	// Happy path
	w = do(r, http.MethodPost, "/tenants/ta/policies", `{"name":"Cargo open cover","policy_type_id":2,"is_active":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", w.Code, w.Body.String())
	}
	var p domain.Policy
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("json: %v", err)
	}
	if p.ID != 11 || p.Name != "Cargo open cover" || p.PolicyTypeID != 2 || p.TenantID != "ta" {
		t.Fatalf("unexpected created policy: %+v", p)
	}
}

func TestUpdatePolicy_PassesPathID(t *testing.T) {
	var gotID int
	svc := &stubPolicySvc{
		updateFn: func(_ context.Context, _ string, p *domain.Policy) (*domain.Policy, error) {
			gotID = p.ID
			return p, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodPut, "/tenants/ta/policies/9", `{"name":"Renewed","policy_type_id":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotID != 9 {
		t.Fatalf("path id not applied to payload, got %d", gotID)
	}
}

func TestUpdatePolicy_NotFound(t *testing.T) {
	svc := &stubPolicySvc{
		updateFn: func(context.Context, string, *domain.Policy) (*domain.Policy, error) {
			return nil, services.ErrPolicyNotFound
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodPut, "/tenants/ta/policies/9", `{"name":"x","policy_type_id":1}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestDeletePolicy_ReturnsRemovedRow(t *testing.T) {
	svc := &stubPolicySvc{
		deleteFn: func(_ context.Context, tenantID string, id int) (*domain.Policy, error) {
			if id != 3 {
				return nil, services.ErrPolicyNotFound
			}
			return &domain.Policy{ID: 3, Name: "Pol-03", TenantID: tenantID}, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodDelete, "/tenants/ta/policies/3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var p domain.Policy
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil || p.Name != "Pol-03" {
		t.Fatalf("expected removed row, got %s", w.Body.String())
	}

	w = do(r, http.MethodDelete, "/tenants/ta/policies/8", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("re-delete status=%d", w.Code)
	}
}

//
// Lookup table
//

func TestListPolicyTypes_EmptyIsArray(t *testing.T) {
	svc := &stubPolicySvc{
		typesFn: func(context.Context, string) ([]domain.PolicyType, error) {
			return nil, nil
		},
	}
	r := newTestRouter(New(svc, nil, nil))

	w := do(r, http.MethodGet, "/tenants/ta/policy-types", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}
