package pos

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

func (h *Handler) profileContext(r *http.Request) (settings.Context, error) {
	profile := strings.TrimSpace(r.URL.Query().Get("pos_profile"))
	if profile == "" {
		return settings.Context{}, shared.Validationf("pos_profile is required")
	}
	return h.settings.Context(r.Context(), profile)
}

func (h *Handler) itemsWithStock(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.profileContext(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	rows, total, err := h.stock.GetItemsWithStock(r.Context(), inventory.ItemStockFilter{
		Warehouse:              cfg.Profile.Warehouse,
		FinishedGoodsWarehouse: cfg.Profile.FinishedGoodsWarehouse,
		ItemGroup:              strings.TrimSpace(q.Get("item_group")),
		Search:                 strings.TrimSpace(q.Get("search")),
		Page:                   queryInt(r, "page", 1),
		Limit:                  queryInt(r, "limit", 50),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows, "total": total})
}

func (h *Handler) itemCapacity(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.profileContext(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	warehouse := strings.TrimSpace(r.URL.Query().Get("warehouse"))
	if warehouse == "" {
		warehouse = cfg.Profile.Warehouse
	}
	engine := h.stock.Capacity().WithFinishedGoods(cfg.Profile.FinishedGoodsWarehouse)
	res, err := engine.MaxSellable(r.Context(), chi.URLParam(r, "code"), warehouse)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) itemPrice(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.profileContext(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list := pricing.ApplyChannel(cfg.Profile, r.URL.Query().Get("channel"))
	rate, err := h.pricing.ResolveRate(r.Context(), chi.URLParam(r, "code"), list, cfg.Profile.BasePriceList)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) invalidateSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Invalidate(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	var req inventory.InboundInput
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	req.ActorID = actor.ID
	if req.RefModule == "" {
		req.RefModule = "pos_stock"
	}
	entry, err := h.stock.PostInbound(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req inventory.AdjustmentInput
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	req.ActorID = actor.ID
	if req.RefModule == "" {
		req.RefModule = "pos_stock"
	}
	entry, err := h.stock.PostAdjustment(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.StockCardFilter{
		Warehouse: strings.TrimSpace(q.Get("warehouse")),
		ItemCode:  strings.TrimSpace(q.Get("item_code")),
		Limit:     queryInt(r, "limit", 100),
	}
	if filter.Warehouse == "" || filter.ItemCode == "" {
		h.fail(w, r, shared.Validationf("warehouse and item_code are required"))
		return
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.fail(w, r, shared.Validationf("%s must be YYYY-MM-DD", key))
			return
		}
		*dst = t
	}
	rows, err := h.stock.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": rows})
}
