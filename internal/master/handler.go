package master

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/shared"
)

// Handler manages master endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/cancel", h.cancel)
}

// masterView adds derived fields to the JSON payload.
type masterView struct {
	Master
	BalanceQuantity string `json:"balance_quantity"`
}

func view(m Master) masterView {
	return masterView{Master: m, BalanceQuantity: m.BalanceQuantity().String()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{ProjectCode: q.Get("project_code"), Status: OrderingStatus(q.Get("status")), Page: shared.PageFromQuery(q)}
	rows, total, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	views := make([]masterView, len(rows))
	for i, m := range rows {
		views[i] = view(m)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	m, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(m))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	m, err := h.service.Cancel(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(m))
}
