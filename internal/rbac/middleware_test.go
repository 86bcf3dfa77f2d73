package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type memoryStore struct {
	grants map[string][]string
	perms  map[string]Permission
	err    error
}

func (m *memoryStore) EffectivePermissions(_ context.Context, userID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.grants[userID], nil
}

func (m *memoryStore) ListPermissions(context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStore) EnsurePermission(_ context.Context, name, description string) (Permission, error) {
	if m.perms == nil {
		m.perms = map[string]Permission{}
	}
	p, ok := m.perms[name]
	if !ok {
		p = Permission{ID: int64(len(m.perms) + 1), Name: name, Description: description}
		m.perms[name] = p
	}
	return p, nil
}

func newStore() *memoryStore {
	return &memoryStore{grants: map[string][]string{
		"cashier@odyssey": {shared.PermOrderView, shared.PermInvoiceCreate, "POS.Payment.Record"},
		"admin@odyssey":   {Wildcard},
	}}
}

func TestHasPermission(t *testing.T) {
	svc := NewService(newStore())
	ctx := context.Background()

	ok, err := svc.HasPermission(ctx, "cashier@odyssey", shared.PermPaymentRecord)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(ctx, "cashier@odyssey", shared.PermTableManage)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.HasPermission(ctx, "admin@odyssey", shared.PermSettingsEdit)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(ctx, "  ", shared.PermOrderView)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsurePermissionsSeedsOnce(t *testing.T) {
	store := newStore()
	svc := NewService(store)
	require.NoError(t, svc.EnsurePermissions(context.Background(), append(shared.POSScopes(), shared.PermOrderView)))
	require.Len(t, store.perms, len(shared.POSScopes()))
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, actor string) *httptest.ResponseRecorder {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	req := httptest.NewRequest(http.MethodPost, "/api/pos/orders/ORD-1/invoice", nil)
	if actor != "" {
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: actor}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRequireAnyAndAll(t *testing.T) {
	m := Middleware{Service: NewService(newStore())}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermTableManage, shared.PermInvoiceCreate), "cashier@odyssey").Code)
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermTableManage, shared.PermInvoiceCreate), "cashier@odyssey").Code)
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermOrderView, shared.PermPaymentRecord), "cashier@odyssey").Code)
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermTableManage), "admin@odyssey").Code)
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermOrderView), "").Code)

	rec := serve(t, m.RequireAny(shared.PermTableManage), "cashier@odyssey")
	require.True(t, strings.Contains(rec.Body.String(), "pos.table.manage"))
}

func TestMiddlewareStoreFailure(t *testing.T) {
	m := Middleware{Service: NewService(&memoryStore{err: errors.New("db down")})}
	require.Equal(t, http.StatusInternalServerError, serve(t, m.RequireAny(shared.PermOrderView), "cashier@odyssey").Code)
}
