package pos

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-pos/odyssey-pos/internal/kitchen"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type stateRequest struct {
	State string `json:"state" validate:"required"`
}

type bulkStateRequest struct {
	Items []string `json:"items" validate:"required,min=1,dive,required"`
	State string   `json:"state" validate:"required"`
}

func parseState(raw string) (kitchen.State, error) {
	state := kitchen.State(strings.TrimSpace(raw))
	if !state.Valid() {
		return "", shared.Validationf("unknown kitchen state %q", raw)
	}
	return state, nil
}

func (h *Handler) sendToKitchen(w http.ResponseWriter, r *http.Request) {
	restaurant, err := h.settings.Restaurant(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !restaurant.EnableKOT {
		h.fail(w, r, shared.Validationf("kitchen order tickets are disabled"))
		return
	}
	order, err := h.floor.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tickets, err := h.kitchen.CreateTickets(r.Context(), order)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"tickets": tickets})
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := kitchen.TicketFilter{
		Branch:  branchOf(r),
		Station: strings.TrimSpace(q.Get("station")),
		Order:   strings.TrimSpace(q.Get("pos_order")),
	}
	if raw := strings.TrimSpace(q.Get("state")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			state, err := parseState(part)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			filter.States = append(filter.States, state)
		}
	}
	tickets, err := h.kitchen.ListTickets(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) updateKOTItem(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := parseState(req.State)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.kitchen.UpdateKOTItemState(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) bulkUpdateKOTItems(w http.ResponseWriter, r *http.Request) {
	var req bulkStateRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := parseState(req.State)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res := h.kitchen.BulkUpdateKOTItems(r.Context(), req.Items, state)
	status := http.StatusOK
	if len(res.Succeeded) == 0 && len(res.Failed) > 0 {
		status = http.StatusBadRequest
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) updateKOTTicket(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := parseState(req.State)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ticket, err := h.kitchen.UpdateKOTTicketState(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ticket)
}
