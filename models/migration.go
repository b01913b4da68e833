package models

import (
	"bitbucket.org/mercavio/retail_backend/config"
)

// MigrateTable creates/updates every table this service owns.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		// master data (read models)
		&Product{},
		&Unit{},
		&PaymentMethod{},
		&Client{},
		&Supplier{},
		// cash ledger
		&RegisterSession{},
		&CashMovement{},
		// stock ledger
		&StockItem{},
		&InventoryMovement{},
		// reservations & orders
		&Reservation{},
		&CustomerOrder{},
		&OrderLine{},
		&OrderPayment{},
		// documents
		&Sale{},
		&SaleLine{},
		&PurchaseReceipt{},
		&PurchaseReceiptLine{},
		&Return{},
		&ReturnLine{},
		// numbering
		&NumberingSeries{},
		// reconciliation audit
		&ReconciliationMismatch{},
	)
	if err != nil {
		config.GetLogger().Errorf("migration failed: %v", err)
	}
}
