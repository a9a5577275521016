package sales

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
	"github.com/salesops/salesops/internal/store/memstore"
)

type countingCache struct {
	bumps atomic.Int64
	err   error
}

func (c *countingCache) Bump(context.Context) error {
	c.bumps.Add(1)
	return c.err
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	store   *memstore.Store
	engine  *Engine
	cache   *countingCache
	audit   *memoryAudit
	agent   store.SalesAgent
	product store.Product
}

var fixedNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, policy StockPolicy, stock int64) *fixture {
	t.Helper()
	s := memstore.New(memstore.WithClock(func() time.Time { return fixedNow }))
	agent := s.AddAgent("Ana", decimal.NewFromInt(10))
	product := insertProduct(t, s, "Mouse", "30.00", stock)
	cache := &countingCache{}
	audit := &memoryAudit{}
	engine := NewEngine(s, audit, shared.NewMemoryIdempotencyStore(), cache, EngineConfig{
		StockPolicy: policy,
		Clock:       func() time.Time { return fixedNow },
	})
	return &fixture{store: s, engine: engine, cache: cache, audit: audit, agent: agent, product: product}
}

func insertProduct(t *testing.T, s *memstore.Store, name, price string, stock int64) store.Product {
	t.Helper()
	var p store.Product
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.InsertProduct(ctx, store.Product{
			Name:      name,
			Category:  store.CategoryPeripherals,
			UnitPrice: decimal.RequireFromString(price),
			Stock:     stock,
		})
		return err
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) stock(t *testing.T) int64 {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), f.product.ID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) record(t *testing.T, qty int64) store.SaleRecord {
	t.Helper()
	sale, err := f.engine.RecordSale(context.Background(), RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: qty})
	require.NoError(t, err)
	return sale
}

func (f *fixture) saleCount(t *testing.T) int {
	t.Helper()
	rows, err := f.store.ListSaleRows(context.Background(), store.Period{Start: fixedNow.AddDate(-1, 0, 0), End: fixedNow.AddDate(1, 0, 0)})
	require.NoError(t, err)
	return len(rows)
}

func TestRecordSaleFreezesTotalAndTakesStock(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)

	sale := f.record(t, 3)

	assert.True(t, sale.Total.Equal(decimal.RequireFromString("90.00")), sale.Total.String())
	assert.Equal(t, fixedNow, sale.SoldAt)
	assert.EqualValues(t, 7, f.stock(t))
	assert.EqualValues(t, 1, f.cache.bumps.Load())
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, "sale.create", f.audit.logs[0].Action)
}

func TestRecordSaleValidation(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	ctx := context.Background()

	tests := []struct {
		name  string
		input RecordSaleInput
		want  error
	}{
		{"zero quantity", RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 0}, shared.ErrInvalidArgument},
		{"negative quantity", RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: -2}, shared.ErrInvalidArgument},
		{"missing agent id", RecordSaleInput{ProductID: f.product.ID, Quantity: 1}, shared.ErrInvalidArgument},
		{"unknown agent", RecordSaleInput{AgentID: 99, ProductID: f.product.ID, Quantity: 1}, shared.ErrNotFound},
		{"unknown product", RecordSaleInput{AgentID: f.agent.ID, ProductID: 99, Quantity: 1}, shared.ErrNotFound},
		{"bad idempotency key", RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 1, IdempotencyKey: "nope"}, shared.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RecordSale(ctx, tt.input)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.EqualValues(t, 10, f.stock(t))
	assert.Zero(t, f.saleCount(t))
	assert.Zero(t, f.cache.bumps.Load())
}

func TestRecordSaleInsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 2)

	_, err := f.engine.RecordSale(context.Background(), RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 3})

	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.EqualValues(t, 2, short.Available)
	assert.EqualValues(t, 3, short.Requested)
	assert.False(t, shared.IsRetryable(err))
	assert.EqualValues(t, 2, f.stock(t))
	assert.Zero(t, f.saleCount(t))
	assert.Zero(t, f.cache.bumps.Load())
	assert.Empty(t, f.audit.logs)
}

func TestRecordSaleStorageFailureRollsBackStock(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 5)
	f.store.FailNext("InsertSale", errors.New("connection reset"))

	_, err := f.engine.RecordSale(context.Background(), RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 2})

	require.ErrorIs(t, err, shared.ErrStorage)
	assert.True(t, shared.IsRetryable(err))
	assert.EqualValues(t, 5, f.stock(t))
	assert.Zero(t, f.saleCount(t))
}

func TestRecordSaleConcurrentNeverOversells(t *testing.T) {
	tests := []struct {
		stock, qty int64
		callers    int
	}{
		{stock: 10, qty: 1, callers: 25},
		{stock: 10, qty: 3, callers: 8},
		{stock: 7, qty: 7, callers: 5},
	}
	for _, tt := range tests {
		f := newFixture(t, StockPolicyReconcile, tt.stock)
		var (
			wg       sync.WaitGroup
			ok, miss atomic.Int64
		)
		for i := 0; i < tt.callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.RecordSale(context.Background(), RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: tt.qty})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, shared.ErrInsufficientStock):
					miss.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		want := tt.stock / tt.qty
		if int64(tt.callers) < want {
			want = int64(tt.callers)
		}
		assert.Equal(t, want, ok.Load())
		assert.Equal(t, int64(tt.callers)-want, miss.Load())
		assert.Equal(t, tt.stock-want*tt.qty, f.stock(t))
		assert.Equal(t, int(want), f.saleCount(t))
	}
}

func TestRecordSaleConcurrentWithRestock(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 0)
	var wg sync.WaitGroup
	var sold atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				_, err := tx.IncrementStock(ctx, f.product.ID, 1)
				return err
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			if _, err := f.engine.RecordSale(context.Background(), RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 1}); err == nil {
				sold.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20-sold.Load(), f.stock(t))
}

func TestRecordedTotalSurvivesPriceChange(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	sale := f.record(t, 2)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpdateProductPrice(ctx, f.product.ID, decimal.RequireFromString("45.50"))
		return err
	})
	require.NoError(t, err)

	got, err := f.engine.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("60.00")), got.Total.String())
}

func TestAmendSaleUsesCurrentPrice(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	sale := f.record(t, 2)
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpdateProductPrice(ctx, f.product.ID, decimal.RequireFromString("40.00"))
		return err
	})
	require.NoError(t, err)

	amended, err := f.engine.AmendSale(context.Background(), sale.ID, 3)
	require.NoError(t, err)
	assert.True(t, amended.Total.Equal(decimal.RequireFromString("120.00")), amended.Total.String())
	assert.EqualValues(t, 3, amended.Quantity)
}

func TestAmendSaleReconcilePolicy(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	sale := f.record(t, 3)
	require.EqualValues(t, 7, f.stock(t))

	_, err := f.engine.AmendSale(context.Background(), sale.ID, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, f.stock(t))

	_, err = f.engine.AmendSale(context.Background(), sale.ID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 9, f.stock(t))

	_, err = f.engine.AmendSale(context.Background(), sale.ID, 11)
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.EqualValues(t, 9, short.Available)
	assert.EqualValues(t, 9, f.stock(t))

	got, err := f.engine.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Quantity)
}

func TestAmendSalePreservePolicyLeavesStock(t *testing.T) {
	f := newFixture(t, StockPolicyPreserve, 10)
	sale := f.record(t, 3)

	amended, err := f.engine.AmendSale(context.Background(), sale.ID, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 8, amended.Quantity)
	assert.True(t, amended.Total.Equal(decimal.RequireFromString("240.00")))
	assert.EqualValues(t, 7, f.stock(t))
}

func TestAmendSaleErrors(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	sale := f.record(t, 1)

	_, err := f.engine.AmendSale(context.Background(), 404, 2)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.engine.AmendSale(context.Background(), sale.ID, 0)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestDeleteSaleReconcileRestoresStock(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	sale := f.record(t, 4)

	require.NoError(t, f.engine.DeleteSale(context.Background(), sale.ID))
	assert.EqualValues(t, 10, f.stock(t))
	assert.Zero(t, f.saleCount(t))

	err := f.engine.DeleteSale(context.Background(), sale.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.EqualValues(t, 2, f.cache.bumps.Load())
}

func TestDeleteSalePreservePolicyKeepsStock(t *testing.T) {
	f := newFixture(t, StockPolicyPreserve, 10)
	sale := f.record(t, 4)

	require.NoError(t, f.engine.DeleteSale(context.Background(), sale.ID))
	assert.EqualValues(t, 6, f.stock(t))
	assert.Zero(t, f.saleCount(t))
}

func TestReconcileConservesStock(t *testing.T) {
	const initial = 50
	f := newFixture(t, StockPolicyReconcile, initial)
	ctx := context.Background()

	a := f.record(t, 5)
	b := f.record(t, 7)
	c := f.record(t, 1)
	_, err := f.engine.AmendSale(ctx, a.ID, 9)
	require.NoError(t, err)
	_, err = f.engine.AmendSale(ctx, b.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteSale(ctx, c.ID))
	_ = f.record(t, 3)

	rows, err := f.engine.ListSales(ctx, store.Period{Start: fixedNow.Add(-time.Hour), End: fixedNow.Add(time.Hour)})
	require.NoError(t, err)
	var sold int64
	for _, row := range rows {
		sold += row.Quantity
	}
	assert.EqualValues(t, initial, f.stock(t)+sold)
}

func TestRecordSaleIdempotencyKey(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 10)
	key := uuid.NewString()
	input := RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 2, IdempotencyKey: key}

	_, err := f.engine.RecordSale(context.Background(), input)
	require.NoError(t, err)
	_, err = f.engine.RecordSale(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.EqualValues(t, 8, f.stock(t))
	assert.Equal(t, 1, f.saleCount(t))
}

func TestRecordSaleFailureReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 1)
	key := uuid.NewString()
	input := RecordSaleInput{AgentID: f.agent.ID, ProductID: f.product.ID, Quantity: 2, IdempotencyKey: key}

	_, err := f.engine.RecordSale(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	err = f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.IncrementStock(ctx, f.product.ID, 5)
		return err
	})
	require.NoError(t, err)

	_, err = f.engine.RecordSale(context.Background(), input)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.stock(t))
}

func TestCacheBumpFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, StockPolicyReconcile, 3)
	f.cache.err = errors.New("redis down")

	sale := f.record(t, 1)
	assert.NotZero(t, sale.ID)
	assert.EqualValues(t, 2, f.stock(t))
}

func TestParseStockPolicy(t *testing.T) {
	p, err := ParseStockPolicy("")
	require.NoError(t, err)
	assert.Equal(t, StockPolicyReconcile, p)

	p, err = ParseStockPolicy(" Preserve ")
	require.NoError(t, err)
	assert.Equal(t, StockPolicyPreserve, p)

	_, err = ParseStockPolicy("ignore")
	assert.Error(t, err)
}
