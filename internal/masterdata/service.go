package masterdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cimcon/p2p/internal/shared"
)

// Service exposes reference data to the workflow packages.
type Service struct {
	repo      Repository
	validate  *validator.Validate
	adminRole string
}

// NewService creates a new master data service.
func NewService(repo Repository, validate *validator.Validate, adminRole string) *Service {
	if validate == nil {
		validate = validator.New()
	}
	return &Service{repo: repo, validate: validate, adminRole: adminRole}
}

// Project returns a project by code.
func (s *Service) Project(ctx context.Context, code string) (Project, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Project{}, ErrProjectNotFound
	}
	return s.repo.GetProject(ctx, code)
}

// Vendor returns a vendor by code.
func (s *Service) Vendor(ctx context.Context, code string) (Vendor, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Vendor{}, ErrVendorNotFound
	}
	return s.repo.GetVendor(ctx, code)
}

// ListProjects returns the projects visible to the caller.
func (s *Service) ListProjects(ctx context.Context, caller shared.Caller, page shared.Page) ([]Project, int, error) {
	return s.repo.ListProjects(ctx, shared.ScopeFor(caller, s.adminRole), page)
}

// ListVendors searches vendors by name or code.
func (s *Service) ListVendors(ctx context.Context, search string, page shared.Page) ([]Vendor, int, error) {
	return s.repo.ListVendors(ctx, strings.TrimSpace(search), page)
}

// SaveProject creates or replaces a project.
func (s *Service) SaveProject(ctx context.Context, p Project) (Project, error) {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	if err := s.validate.Struct(p); err != nil {
		return Project{}, err
	}
	if _, err := s.repo.GetDivision(ctx, p.DivisionID); err != nil {
		return Project{}, fmt.Errorf("save project %s: %w", p.Code, err)
	}
	return s.repo.UpsertProject(ctx, p)
}

// SaveVendor creates or replaces a vendor.
func (s *Service) SaveVendor(ctx context.Context, v Vendor) (Vendor, error) {
	v.Code = strings.TrimSpace(v.Code)
	v.GSTIN = strings.ToUpper(strings.TrimSpace(v.GSTIN))
	v.PAN = strings.ToUpper(strings.TrimSpace(v.PAN))
	if v.StateCode == "" && len(v.GSTIN) == 15 {
		v.StateCode = v.GSTIN[:2]
	}
	if err := s.validate.Struct(v); err != nil {
		return Vendor{}, err
	}
	return s.repo.UpsertVendor(ctx, v)
}
