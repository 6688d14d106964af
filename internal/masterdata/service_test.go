package masterdata

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/cimcon/p2p/internal/shared"
)

type memoryRepo struct {
	divisions map[int64]Division
	projects  map[string]Project
	vendors   map[string]Vendor
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		divisions: map[int64]Division{1: {ID: 1, Name: "Smart Lighting"}, 2: {ID: 2, Name: "Automation"}},
		projects:  make(map[string]Project),
		vendors:   make(map[string]Vendor),
	}
}

func (r *memoryRepo) GetDivision(ctx context.Context, id int64) (Division, error) {
	d, ok := r.divisions[id]
	if !ok {
		return Division{}, ErrDivisionNotFound
	}
	return d, nil
}

func (r *memoryRepo) GetProject(ctx context.Context, code string) (Project, error) {
	p, ok := r.projects[code]
	if !ok {
		return Project{}, ErrProjectNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListProjects(ctx context.Context, scope shared.Scope, page shared.Page) ([]Project, int, error) {
	var out []Project
	for _, p := range r.projects {
		if scope.Allows(p.DivisionID) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) UpsertProject(ctx context.Context, p Project) (Project, error) {
	r.projects[p.Code] = p
	return p, nil
}

func (r *memoryRepo) GetVendor(ctx context.Context, code string) (Vendor, error) {
	v, ok := r.vendors[code]
	if !ok {
		return Vendor{}, ErrVendorNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListVendors(ctx context.Context, search string, page shared.Page) ([]Vendor, int, error) {
	var out []Vendor
	for _, v := range r.vendors {
		out = append(out, v)
	}
	return out, len(out), nil
}

func (r *memoryRepo) UpsertVendor(ctx context.Context, v Vendor) (Vendor, error) {
	r.vendors[v.Code] = v
	return v, nil
}

func TestSaveProjectRequiresKnownDivision(t *testing.T) {
	svc := NewService(newMemoryRepo(), validator.New(), "admin")
	ctx := context.Background()

	_, err := svc.SaveProject(ctx, Project{Code: "pcode", ClientName: "ACME", DivisionID: 9})
	require.ErrorIs(t, err, ErrDivisionNotFound)

	saved, err := svc.SaveProject(ctx, Project{Code: "pcode", ClientName: "ACME", DivisionID: 1})
	require.NoError(t, err)
	require.Equal(t, "PCODE", saved.Code)
}

func TestListProjectsScopedByDivision(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, validator.New(), "admin")
	ctx := context.Background()
	_, _ = svc.SaveProject(ctx, Project{Code: "P1", ClientName: "A", DivisionID: 1})
	_, _ = svc.SaveProject(ctx, Project{Code: "P2", ClientName: "B", DivisionID: 2})

	own, _, err := svc.ListProjects(ctx, shared.Caller{DivisionID: 1}, shared.Page{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, "P1", own[0].Code)

	all, _, err := svc.ListProjects(ctx, shared.Caller{DivisionID: 1, Roles: []string{"admin"}}, shared.Page{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSaveVendorDerivesStateCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), validator.New(), "admin")
	v, err := svc.SaveVendor(context.Background(), Vendor{Code: "V001", Name: "Volt Traders", GSTIN: "24aaacv1234f1z5"})
	require.NoError(t, err)
	require.Equal(t, "24", v.StateCode)
	require.Equal(t, "24AAACV1234F1Z5", v.GSTIN)

	_, err = svc.SaveVendor(context.Background(), Vendor{Code: "V002", Name: "Bad", GSTIN: "123"})
	require.Error(t, err)
}
