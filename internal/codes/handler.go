package codes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cimcon/p2p/internal/platform/httpx"
)

// Handler exposes part-number tooling over HTTP.
type Handler struct {
	logger *slog.Logger
	tables *Tables
}

// NewHandler registers the cimcon validation tag and builds the handler.
func NewHandler(logger *slog.Logger, tables *Tables) *Handler {
	httpx.RegisterValidation("cimcon", ValidInput)
	return &Handler{logger: logger, tables: tables}
}

// MountRoutes registers code routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/part-numbers/{code}", h.parse)
	r.Post("/part-numbers", h.generate)
	r.Get("/hsn/{group}", h.hsn)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) {
	pn, err := h.tables.Parse(chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pn)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var parts Parts
	if err := httpx.Bind(r, &parts); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	code, err := h.tables.Generate(parts)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (h *Handler) hsn(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	hsn, err := h.tables.LookupHSN(group)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"material_group": group, "hsn": hsn})
}
