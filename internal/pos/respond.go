package pos

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-pos/odyssey-pos/internal/billing"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body: %v", err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", describeValidation(err)))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// classify attaches an error kind to domain sentinels that carry none.
func classify(err error) error {
	switch {
	case errors.Is(err, settings.ErrProfileNotFound), errors.Is(err, pricing.ErrPriceNotFound):
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	case errors.Is(err, settings.ErrProfileDisabled), errors.Is(err, inventory.ErrBOMCycle),
		errors.Is(err, inventory.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidUnitCost),
		errors.Is(err, inventory.ErrNegativeStock):
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return err
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	err = classify(err)
	if errors.Is(err, billing.ErrInvoiceFailed) {
		h.logger.Error("pos: invoice failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Invoice Failed", err.Error())
		return
	}
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrPermission) &&
		!errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrConflict) {
		h.logger.Error("pos: request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// amountString accepts a JSON string or number and keeps its text.
type amountString string

func (a *amountString) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		*a = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*a = amountString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*a = amountString(n.String())
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// branchOf prefers the branch query parameter and falls back to the actor's.
func branchOf(r *http.Request) string {
	if b := strings.TrimSpace(r.URL.Query().Get("branch")); b != "" {
		return b
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.Branch
}
