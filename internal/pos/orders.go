package pos

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
	"github.com/odyssey-pos/odyssey-pos/internal/variants"
)

type lineRequest struct {
	ItemCode       string          `json:"item_code" validate:"required"`
	Qty            float64         `json:"qty" validate:"gt=0"`
	Rate           amountString    `json:"rate"`
	Notes          string          `json:"notes"`
	Customizations json.RawMessage `json:"pos_customizations"`
	Station        string          `json:"kitchen_station"`
	Warehouse      string          `json:"warehouse"`
}

type createOrderRequest struct {
	Branch   string        `json:"branch" validate:"required"`
	Profile  string        `json:"pos_profile" validate:"required"`
	Type     string        `json:"order_type"`
	Table    string        `json:"table"`
	Customer string        `json:"customer"`
	Channel  string        `json:"channel"`
	Items    []lineRequest `json:"items" validate:"dive"`
}

type addLineRequest struct {
	lineRequest
	Channel string `json:"channel"`
}

type updateLineRequest struct {
	Qty  *float64     `json:"qty" validate:"omitempty,gt=0"`
	Rate amountString `json:"rate"`
}

type mergeRequest struct {
	Orders []string `json:"orders" validate:"required,min=1,dive,required"`
}

type assignTableRequest struct {
	Table string `json:"table" validate:"required"`
}

type tableStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Available Occupied Reserved"`
	Order  string `json:"pos_order"`
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.floor.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Type != "" && !floor.OrderType(req.Type).Valid() {
		h.fail(w, r, shared.Validationf("unknown order type %q", req.Type))
		return
	}
	cfg, err := h.settings.Context(r.Context(), req.Profile)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]floor.Line, 0, len(req.Items))
	for _, item := range req.Items {
		line, err := h.toLine(r.Context(), cfg, req.Channel, item)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		lines = append(lines, line)
	}
	order, err := h.floor.CreateOrder(r.Context(), floor.CreateOrderInput{
		Branch:   req.Branch,
		Profile:  req.Profile,
		Type:     floor.OrderType(req.Type),
		Table:    req.Table,
		Customer: req.Customer,
		Lines:    lines,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	orderID := chi.URLParam(r, "id")
	order, err := h.floor.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cfg, err := h.settings.Context(r.Context(), order.Profile)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	line, err := h.toLine(r.Context(), cfg, req.Channel, req.lineRequest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.floor.AddLine(r.Context(), orderID, line)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saved)
}

// toLine builds an order line. Lines without a rate are priced from the
// profile's price list for the channel.
func (h *Handler) toLine(ctx context.Context, cfg settings.Context, channel string, req lineRequest) (floor.Line, error) {
	line := floor.Line{
		ItemCode:       strings.TrimSpace(req.ItemCode),
		Qty:            req.Qty,
		Notes:          strings.TrimSpace(req.Notes),
		Customizations: req.Customizations,
		Station:        req.Station,
		Warehouse:      req.Warehouse,
	}
	if raw := strings.TrimSpace(string(req.Rate)); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return floor.Line{}, shared.Validationf("invalid rate %q for %s", raw, line.ItemCode)
		}
		line.Rate = rate
		return line, nil
	}
	if h.pricing == nil {
		return line, nil
	}
	rate, err := h.pricing.ResolveRate(ctx, line.ItemCode, pricing.ApplyChannel(cfg.Profile, channel), cfg.Profile.BasePriceList)
	if err != nil {
		return floor.Line{}, err
	}
	line.Rate = rate.Rate
	return line, nil
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	orderID, lineID := chi.URLParam(r, "id"), chi.URLParam(r, "line")
	if req.Qty == nil && req.Rate == "" {
		h.fail(w, r, shared.Validationf("qty or rate is required"))
		return
	}
	var (
		line floor.Line
		err  error
	)
	if req.Qty != nil {
		if line, err = h.floor.UpdateLineQty(r.Context(), orderID, lineID, *req.Qty); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Rate != "" {
		rate, perr := decimal.NewFromString(strings.TrimSpace(string(req.Rate)))
		if perr != nil {
			h.fail(w, r, shared.Validationf("invalid rate %q", req.Rate))
			return
		}
		if line, err = h.floor.UpdateLineRate(r.Context(), orderID, lineID, rate); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) chooseVariant(w http.ResponseWriter, r *http.Request) {
	var req variants.ChooseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, shared.Validationf("invalid request body: %v", err))
		return
	}
	req.OrderID = chi.URLParam(r, "id")
	req.LineID = chi.URLParam(r, "line")
	line, err := h.variants.ChooseVariantForOrderItem(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) claimOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.floor.ClaimOrder)
}

func (h *Handler) releaseClaim(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.floor.ReleaseClaim)
}

func (h *Handler) requestBill(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.floor.RequestBill)
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (floor.Order, error)) {
	order, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) mergeOrders(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.floor.MergeOrders(r.Context(), chi.URLParam(r, "id"), req.Orders)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) assignTable(w http.ResponseWriter, r *http.Request) {
	var req assignTableRequest
	if !h.decode(w, r, &req) {
		return
	}
	table, err := h.floor.AssignTable(r.Context(), chi.URLParam(r, "id"), req.Table)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, table)
}

func (h *Handler) releaseTable(w http.ResponseWriter, r *http.Request) {
	res, err := h.floor.ReleaseTableIfDone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.floor.ListTables(r.Context(), branchOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *Handler) setTableStatus(w http.ResponseWriter, r *http.Request) {
	var req tableStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	table, err := h.floor.SetTableStatus(r.Context(), chi.URLParam(r, "name"), floor.TableStatus(req.Status), req.Order)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, table)
}

func (h *Handler) nextQueueNumber(w http.ResponseWriter, r *http.Request) {
	branch := branchOf(r)
	if branch == "" {
		h.fail(w, r, shared.Validationf("branch is required"))
		return
	}
	n, err := h.floor.NextQueueNumber(r.Context(), branch, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branch": branch, "queue_number": n})
}
