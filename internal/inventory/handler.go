package inventory

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/shared"
)

// OutwardDocuments renders the paper of an outward.
type OutwardDocuments interface {
	RenderOutward(ctx context.Context, o StockOutward, inv Inventory) (contentType string, body []byte, err error)
}

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	documents OutwardDocuments
}

// NewHandler constructs inventory handler. documents may be nil.
func NewHandler(logger *slog.Logger, service *Service, documents OutwardDocuments) *Handler {
	return &Handler{logger: logger, service: service, documents: documents}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/export.xlsx", h.export)
	r.Get("/{id}", h.get)
	r.Get("/{id}/allocations", h.allocations)
	r.Post("/{id}/inward", h.inward)
	r.Post("/allocations", h.allocate)
	r.Post("/allocations/{id}/reallocate", h.reallocate)
	r.Post("/outward", h.outward)
	r.Get("/outward/{id}", h.getOutward)
	r.Post("/gate-passes/{id}/return", h.returnGatePass)
	r.Post("/rejection-returns", h.rejectionReturn)
	if h.documents != nil {
		r.Get("/outward/{id}/document", h.document)
	}
}

// inventoryView adds the derived available stock.
type inventoryView struct {
	Inventory
	AvailableStock decimal.Decimal `json:"available_stock"`
}

func view(inv Inventory) inventoryView {
	return inventoryView{Inventory: inv, AvailableStock: inv.AvailableStock()}
}

type inwardRequest struct {
	Location  Location        `json:"location" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reference string          `json:"reference"`
}

type returnRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("search"), MaterialGroup: q.Get("material_group"), Page: shared.PageFromQuery(q)}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	views := make([]inventoryView, len(items))
	for i, inv := range items {
		views[i] = view(inv)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(inv))
}

func (h *Handler) allocations(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.Allocations(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) inward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req inwardRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err = h.service.PostInward(r.Context(), InwardInput{ItemNo: inv.ItemNo, Location: req.Location, Quantity: req.Quantity, Reference: req.Reference})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(inv))
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var input AllocateInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	a, err := h.service.Allocate(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) reallocate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var input ReallocateInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	a, err := h.service.Reallocate(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) outward(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	var input OutwardInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.Outward(r.Context(), caller, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) getOutward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.GetOutward(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) returnGatePass(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req returnRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	o, err := h.service.ReturnGatePass(r.Context(), id, req.Quantity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) rejectionReturn(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.CallerFromContext(r.Context())
	var input RejectionReturnInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.RejectionReturn(r.Context(), caller, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	o, err := h.service.GetOutward(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Get(r.Context(), o.InventoryID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	contentType, body, err := h.documents.RenderOutward(r.Context(), o, inv)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.ExportStock(r.Context(), &buf); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="stock_statement.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}
