package shared

// POS permissions declared for RBAC.
const (
	PermOrderView  = "pos.order.view"
	PermOrderEdit  = "pos.order.edit"
	PermOrderClaim = "pos.order.claim"
	PermOrderMerge = "pos.order.merge"

	PermInvoiceCreate = "pos.invoice.create"
	PermPaymentRecord = "pos.payment.record"

	PermTableManage = "pos.table.manage"

	PermKitchenUpdate = "pos.kitchen.update"

	PermStockView   = "pos.stock.view"
	PermStockAdjust = "pos.stock.adjust"

	// PermSettingsEdit guards cache invalidation of POS profiles.
	PermSettingsEdit = "pos.settings.edit"
)

// POSScopes lists all permissions related to the POS.
func POSScopes() []string {
	return []string{
		PermOrderView,
		PermOrderEdit,
		PermOrderClaim,
		PermOrderMerge,
		PermInvoiceCreate,
		PermPaymentRecord,
		PermTableManage,
		PermKitchenUpdate,
		PermStockView,
		PermStockAdjust,
		PermSettingsEdit,
	}
}
