package pos

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-pos/odyssey-pos/internal/billing"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type paymentRequest struct {
	ModeOfPayment string       `json:"mode_of_payment" validate:"required"`
	Amount        amountString `json:"amount" validate:"required"`
}

type invoiceResponse struct {
	Invoice      billing.Invoice      `json:"invoice"`
	AlreadyPaid  bool                 `json:"already_paid,omitempty"`
	Message      string               `json:"message,omitempty"`
	TableRelease *floor.ReleaseResult `json:"table_release,omitempty"`
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.billing.GenerateInvoice(r.Context(), billing.GenerateRequest{
		OrderID:       chi.URLParam(r, "id"),
		ModeOfPayment: req.ModeOfPayment,
		Amount:        string(req.Amount),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceResponse{
		Invoice:      inv,
		TableRelease: h.autoRelease(r.Context(), inv),
	})
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.billing.ProcessPayment(r.Context(), chi.URLParam(r, "id"), req.ModeOfPayment, string(req.Amount))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := invoiceResponse{Invoice: res.Invoice, AlreadyPaid: res.AlreadyPaid, Message: res.Message}
	if !res.AlreadyPaid {
		out.TableRelease = h.autoRelease(r.Context(), res.Invoice)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.billing.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// autoRelease frees the order's table once its invoice is paid and the
// restaurant asks for it. Failures are logged; the payment stands.
func (h *Handler) autoRelease(ctx context.Context, inv billing.Invoice) *floor.ReleaseResult {
	if inv.Status != billing.StatusPaid || inv.Order == "" || h.settings == nil {
		return nil
	}
	var out *floor.ReleaseResult
	shared.BestEffort(h.logger, "pos.auto_release_table", func() error {
		restaurant, err := h.settings.Restaurant(ctx)
		if err != nil {
			return err
		}
		if !restaurant.AutoReleaseTable {
			return nil
		}
		res, err := h.floor.ReleaseTableIfDone(ctx, inv.Order)
		if err != nil {
			return err
		}
		out = &res
		return nil
	})
	if out != nil && !out.Skipped {
		h.logger.Info("pos: table released", slog.String("pos_order", inv.Order), slog.String("table", out.Table))
	}
	return out
}
