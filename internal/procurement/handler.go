package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/shared"
)

// DocumentRenderer produces the printable purchase order.
type DocumentRenderer interface {
	RenderPO(ctx context.Context, po PurchaseOrder) (filename string, body []byte, err error)
}

// Handler manages purchase order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	documents DocumentRenderer
}

// NewHandler builds Handler instance. documents may be nil.
func NewHandler(logger *slog.Logger, service *Service, documents DocumentRenderer) *Handler {
	return &Handler{logger: logger, service: service, documents: documents}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/next-number", h.nextNumber)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Get("/{id}/history", h.history)
	r.Get("/{id}/inward", h.inwards)
	r.Post("/{id}/inward", h.postInward)
	r.Post("/{id}/submit", h.simple(h.service.Submit))
	r.Post("/{id}/approve", h.simple(h.service.Approve))
	r.Post("/{id}/resubmit", h.simple(h.service.Resubmit))
	r.Post("/{id}/release", h.simple(h.service.Release))
	r.Post("/{id}/ordered", h.simple(h.service.MarkOrdered))
	r.Post("/{id}/reject", h.withRemarks(h.service.Reject))
	r.Post("/{id}/hold", h.withRemarks(h.service.Hold))
	r.Post("/{id}/cancel", h.withRemarks(h.service.Cancel))
	if h.documents != nil {
		r.Get("/{id}/pdf", h.pdf)
	}
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

func caller(r *http.Request) shared.Caller {
	c, _ := shared.CallerFromContext(r.Context())
	return c
}

// bindSave accepts the order either bare or wrapped in a po_details envelope.
func bindSave(r *http.Request) (SaveInput, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return SaveInput{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return SaveInput{}, err
	}
	if details, ok := raw["po_details"]; ok {
		body = details
	}
	var in SaveInput
	if err := json.Unmarshal(body, &in); err != nil {
		return SaveInput{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := httpx.Validator().Struct(in); err != nil {
		return SaveInput{}, err
	}
	return in, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:      POStatus(q.Get("status")),
		ProjectCode: q.Get("project_code"),
		VendorCode:  q.Get("vendor_code"),
		Page:        shared.PageFromQuery(q),
	}
	orders, total, err := h.service.List(r.Context(), caller(r), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, err := bindSave(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.Create(r.Context(), caller(r), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in, err := bindSave(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.Update(r.Context(), caller(r), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.Get(r.Context(), caller(r), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) nextNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.PeekNextPONumber(r.Context(), time.Now())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"po_number": number})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.History(r.Context(), caller(r), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) inwards(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.Inwards(r.Context(), caller(r), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) postInward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var in InwardInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	po, entries, err := h.service.PostInward(r.Context(), caller(r), id, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"purchase_order": po, "entries": entries})
}

func (h *Handler) simple(fn func(context.Context, shared.Caller, int64) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		po, err := fn(r.Context(), caller(r), id)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) withRemarks(fn func(context.Context, shared.Caller, int64, string) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		var req remarksRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.RespondError(w, h.logger, err)
				return
			}
		}
		po, err := fn(r.Context(), caller(r), id, req.Remarks)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) pdf(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	po, err := h.service.Get(r.Context(), caller(r), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filename, body, err := h.documents.RenderPO(r.Context(), po)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
