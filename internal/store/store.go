package store

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the read side of the ledger plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	ListProducts(ctx context.Context) ([]Product, error)
	ListLowStock(ctx context.Context, threshold int64) ([]Product, error)
	ListAgents(ctx context.Context) ([]SalesAgent, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetAgent(ctx context.Context, id int64) (SalesAgent, error)
	GetSale(ctx context.Context, id int64) (SaleRecord, error)
	// ListSaleRows returns sales inside p ordered by SoldAt then ID.
	ListSaleRows(ctx context.Context, p Period) ([]SaleRow, error)
}

// Tx exposes the operations that must run atomically. Every write made
// through a Tx is discarded when the WithTx callback returns an error.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetAgent(ctx context.Context, id int64) (SalesAgent, error)
	FindProductByName(ctx context.Context, name string) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProductPrice(ctx context.Context, id int64, price decimal.Decimal) (Product, error)
	// DecrementStockIfAvailable subtracts qty only when stock >= qty, as one
	// indivisible check-and-write.
	DecrementStockIfAvailable(ctx context.Context, productID, qty int64) (StockChange, error)
	IncrementStock(ctx context.Context, productID, qty int64) (int64, error)
	InsertSale(ctx context.Context, s SaleRecord) (SaleRecord, error)
	GetSaleForUpdate(ctx context.Context, id int64) (SaleRecord, error)
	UpdateSale(ctx context.Context, id, qty int64, total decimal.Decimal) error
	DeleteSale(ctx context.Context, id int64) error
}
