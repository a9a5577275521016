// Package memstore is an in-process store.Repository. Transactions are
// serialised behind one mutex and work on a snapshot that is restored when
// the callback fails.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

type state struct {
	products    map[int64]store.Product
	agents      map[int64]store.SalesAgent
	sales       map[int64]store.SaleRecord
	nextProduct int64
	nextAgent   int64
	nextSale    int64
}

func newState() state {
	return state{
		products: make(map[int64]store.Product),
		agents:   make(map[int64]store.SalesAgent),
		sales:    make(map[int64]store.SaleRecord),
	}
}

func (s state) clone() state {
	out := state{
		products:    make(map[int64]store.Product, len(s.products)),
		agents:      make(map[int64]store.SalesAgent, len(s.agents)),
		sales:       make(map[int64]store.SaleRecord, len(s.sales)),
		nextProduct: s.nextProduct,
		nextAgent:   s.nextAgent,
		nextSale:    s.nextSale,
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.agents {
		out.agents[k] = v
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	return out
}

// Store is a mutex-guarded in-memory repository.
type Store struct {
	mu     sync.Mutex
	st     state
	now    func() time.Time
	faults map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for product creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now, faults: make(map[string]error)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAgent registers a sales agent and returns it with its id.
func (s *Store) AddAgent(name string, commissionPct decimal.Decimal) store.SalesAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextAgent++
	agent := store.SalesAgent{ID: s.st.nextAgent, Name: name, CommissionPct: commissionPct}
	s.st.agents[agent.ID] = agent
	return agent
}

// InsertAgent is AddAgent with the signature the seed command expects.
func (s *Store) InsertAgent(_ context.Context, name string, commissionPct decimal.Decimal) (store.SalesAgent, error) {
	return s.AddAgent(name, commissionPct), nil
}

// FailNext makes the next transactional call to op return err. op is a Tx
// method name such as "InsertSale".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	s.faults[op] = err
	s.mu.Unlock()
}

// WithTx runs fn against a working copy that is discarded if fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return shared.Storage("begin tx", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, &tx{s: s}); err != nil {
		return err
	}
	committed = true
	return nil
}

// ListProducts returns products ordered by name.
func (s *Store) ListProducts(_ context.Context) ([]store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListLowStock returns products whose stock is below threshold, lowest first.
func (s *Store) ListLowStock(_ context.Context, threshold int64) ([]store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Product
	for _, p := range s.st.products {
		if p.Stock < threshold {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListAgents returns agents ordered by name.
func (s *Store) ListAgents(_ context.Context) ([]store.SalesAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.SalesAgent, 0, len(s.st.agents))
	for _, a := range s.st.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetProduct loads a product by id.
func (s *Store) GetProduct(_ context.Context, id int64) (store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.product(id)
}

// GetAgent loads an agent by id.
func (s *Store) GetAgent(_ context.Context, id int64) (store.SalesAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.agent(id)
}

// GetSale loads a sale by id.
func (s *Store) GetSale(_ context.Context, id int64) (store.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sale(id)
}

// ListSaleRows joins sales in p with their product and agent.
func (s *Store) ListSaleRows(_ context.Context, p store.Period) ([]store.SaleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SaleRow
	for _, sale := range s.st.sales {
		if !p.Contains(sale.SoldAt) {
			continue
		}
		product := s.st.products[sale.ProductID]
		agent := s.st.agents[sale.AgentID]
		out = append(out, store.SaleRow{
			SaleID:        sale.ID,
			SoldAt:        sale.SoldAt,
			ProductID:     product.ID,
			ProductName:   product.Name,
			Category:      product.Category,
			AgentID:       agent.ID,
			AgentName:     agent.Name,
			CommissionPct: agent.CommissionPct,
			Quantity:      sale.Quantity,
			Total:         sale.Total,
			Commission:    agent.CommissionOn(sale.Total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SoldAt.Equal(out[j].SoldAt) {
			return out[i].SoldAt.Before(out[j].SoldAt)
		}
		return out[i].SaleID < out[j].SaleID
	})
	return out, nil
}

func (st *state) product(id int64) (store.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return store.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (st *state) agent(id int64) (store.SalesAgent, error) {
	a, ok := st.agents[id]
	if !ok {
		return store.SalesAgent{}, fmt.Errorf("agent %d: %w", id, shared.ErrNotFound)
	}
	return a, nil
}

func (st *state) sale(id int64) (store.SaleRecord, error) {
	sale, ok := st.sales[id]
	if !ok {
		return store.SaleRecord{}, fmt.Errorf("sale %d: %w", id, shared.ErrNotFound)
	}
	return sale, nil
}

// tx operates on the store state while WithTx holds the lock.
type tx struct {
	s *Store
}

func (t *tx) fault(op string) error {
	err, ok := t.s.faults[op]
	if !ok {
		return nil
	}
	delete(t.s.faults, op)
	return shared.Storage(op, err)
}

func (t *tx) GetProduct(_ context.Context, id int64) (store.Product, error) {
	if err := t.fault("GetProduct"); err != nil {
		return store.Product{}, err
	}
	return t.s.st.product(id)
}

func (t *tx) GetAgent(_ context.Context, id int64) (store.SalesAgent, error) {
	if err := t.fault("GetAgent"); err != nil {
		return store.SalesAgent{}, err
	}
	return t.s.st.agent(id)
}

func (t *tx) FindProductByName(_ context.Context, name string) (store.Product, error) {
	if err := t.fault("FindProductByName"); err != nil {
		return store.Product{}, err
	}
	folded := cases.Fold().String(name)
	for _, p := range t.s.st.products {
		if cases.Fold().String(p.Name) == folded {
			return p, nil
		}
	}
	return store.Product{}, fmt.Errorf("product %q: %w", name, shared.ErrNotFound)
}

func (t *tx) InsertProduct(ctx context.Context, p store.Product) (store.Product, error) {
	if err := t.fault("InsertProduct"); err != nil {
		return store.Product{}, err
	}
	if _, err := t.FindProductByName(ctx, p.Name); err == nil {
		return store.Product{}, fmt.Errorf("product %q: %w", p.Name, shared.ErrDuplicateProduct)
	}
	if p.Stock < 0 {
		return store.Product{}, shared.Invalid("stock must be >= 0")
	}
	t.s.st.nextProduct++
	p.ID = t.s.st.nextProduct
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.s.now()
	}
	t.s.st.products[p.ID] = p
	return p, nil
}

func (t *tx) UpdateProductPrice(_ context.Context, id int64, price decimal.Decimal) (store.Product, error) {
	if err := t.fault("UpdateProductPrice"); err != nil {
		return store.Product{}, err
	}
	p, err := t.s.st.product(id)
	if err != nil {
		return store.Product{}, err
	}
	p.UnitPrice = price
	t.s.st.products[id] = p
	return p, nil
}

func (t *tx) DecrementStockIfAvailable(_ context.Context, productID, qty int64) (store.StockChange, error) {
	if err := t.fault("DecrementStockIfAvailable"); err != nil {
		return store.StockChange{}, err
	}
	p, err := t.s.st.product(productID)
	if err != nil {
		return store.StockChange{}, err
	}
	if p.Stock < qty {
		return store.StockChange{OK: false, Remaining: p.Stock}, nil
	}
	p.Stock -= qty
	t.s.st.products[productID] = p
	return store.StockChange{OK: true, Remaining: p.Stock}, nil
}

func (t *tx) IncrementStock(_ context.Context, productID, qty int64) (int64, error) {
	if err := t.fault("IncrementStock"); err != nil {
		return 0, err
	}
	p, err := t.s.st.product(productID)
	if err != nil {
		return 0, err
	}
	p.Stock += qty
	t.s.st.products[productID] = p
	return p.Stock, nil
}

func (t *tx) InsertSale(_ context.Context, sale store.SaleRecord) (store.SaleRecord, error) {
	if err := t.fault("InsertSale"); err != nil {
		return store.SaleRecord{}, err
	}
	if _, err := t.s.st.product(sale.ProductID); err != nil {
		return store.SaleRecord{}, err
	}
	if _, err := t.s.st.agent(sale.AgentID); err != nil {
		return store.SaleRecord{}, err
	}
	if sale.Quantity < 1 {
		return store.SaleRecord{}, shared.Invalid("quantity must be >= 1")
	}
	t.s.st.nextSale++
	sale.ID = t.s.st.nextSale
	if sale.SoldAt.IsZero() {
		sale.SoldAt = t.s.now()
	}
	t.s.st.sales[sale.ID] = sale
	return sale, nil
}

func (t *tx) GetSaleForUpdate(_ context.Context, id int64) (store.SaleRecord, error) {
	if err := t.fault("GetSaleForUpdate"); err != nil {
		return store.SaleRecord{}, err
	}
	return t.s.st.sale(id)
}

func (t *tx) UpdateSale(_ context.Context, id, qty int64, total decimal.Decimal) error {
	if err := t.fault("UpdateSale"); err != nil {
		return err
	}
	sale, err := t.s.st.sale(id)
	if err != nil {
		return err
	}
	sale.Quantity = qty
	sale.Total = total
	t.s.st.sales[id] = sale
	return nil
}

func (t *tx) DeleteSale(_ context.Context, id int64) error {
	if err := t.fault("DeleteSale"); err != nil {
		return err
	}
	if _, err := t.s.st.sale(id); err != nil {
		return err
	}
	delete(t.s.st.sales, id)
	return nil
}

var _ store.Repository = (*Store)(nil)
