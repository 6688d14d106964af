package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/projects", h.listProjects)
	r.Put("/projects/{code}", h.saveProject)
	r.Get("/vendors", h.listVendors)
	r.Get("/vendors/{code}", h.getVendor)
	r.Put("/vendors/{code}", h.saveVendor)
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	page := shared.PageFromQuery(r.URL.Query())
	projects, total, err := h.service.ListProjects(r.Context(), caller, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       projects,
		"pagination": shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func (h *Handler) saveProject(w http.ResponseWriter, r *http.Request) {
	var p Project
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p.Code = chi.URLParam(r, "code")
	saved, err := h.service.SaveProject(r.Context(), p)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromQuery(r.URL.Query())
	vendors, total, err := h.service.ListVendors(r.Context(), r.URL.Query().Get("search"), page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       vendors,
		"pagination": shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Vendor(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) saveVendor(w http.ResponseWriter, r *http.Request) {
	var v Vendor
	if err := httpx.DecodeJSON(r, &v); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v.Code = chi.URLParam(r, "code")
	saved, err := h.service.SaveVendor(r.Context(), v)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
