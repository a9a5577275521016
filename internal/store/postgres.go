package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/platform/db"
	"github.com/salesops/salesops/internal/shared"
)

const productNameIndex = "products_name_lower_key"

// Postgres implements Repository on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres builds a Postgres repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a database transaction.
func (r *Postgres) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return mapPgError("tx", err)
}

// ListProducts returns the catalogue ordered by name.
func (r *Postgres) ListProducts(ctx context.Context) ([]Product, error) {
	return queryProducts(ctx, r.pool, `SELECT `+productColumns+` FROM products ORDER BY LOWER(name), id`)
}

// ListLowStock returns products whose stock is below threshold, lowest first.
func (r *Postgres) ListLowStock(ctx context.Context, threshold int64) ([]Product, error) {
	return queryProducts(ctx, r.pool, `SELECT `+productColumns+` FROM products WHERE stock < $1 ORDER BY stock, id`, threshold)
}

// ListAgents returns all sales agents ordered by name.
func (r *Postgres) ListAgents(ctx context.Context) ([]SalesAgent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, commission_pct FROM sales_agents ORDER BY name, id`)
	if err != nil {
		return nil, mapPgError("list agents", err)
	}
	defer rows.Close()
	var agents []SalesAgent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, mapPgError("scan agent", err)
		}
		agents = append(agents, agent)
	}
	return agents, mapPgError("list agents", rows.Err())
}

// InsertAgent registers a sales agent. Agents have no HTTP surface; the seed
// command is the only writer.
func (r *Postgres) InsertAgent(ctx context.Context, name string, commissionPct decimal.Decimal) (SalesAgent, error) {
	agent, err := scanAgent(r.pool.QueryRow(ctx,
		`INSERT INTO sales_agents (name, commission_pct) VALUES ($1, $2) RETURNING id, name, commission_pct`,
		name, toNumeric(commissionPct)))
	if err != nil {
		return SalesAgent{}, mapPgError("insert agent", err)
	}
	return agent, nil
}

// GetProduct loads a product by id.
func (r *Postgres) GetProduct(ctx context.Context, id int64) (Product, error) {
	return getProduct(ctx, r.pool, id)
}

// GetAgent loads an agent by id.
func (r *Postgres) GetAgent(ctx context.Context, id int64) (SalesAgent, error) {
	return getAgent(ctx, r.pool, id)
}

// GetSale loads a sale by id.
func (r *Postgres) GetSale(ctx context.Context, id int64) (SaleRecord, error) {
	return getSale(ctx, r.pool, id, false)
}

// ListSaleRows joins sales with products and agents for p.
func (r *Postgres) ListSaleRows(ctx context.Context, p Period) ([]SaleRow, error) {
	const query = `SELECT s.id, s.sold_at, s.product_id, p.name, p.category, s.agent_id, a.name, a.commission_pct, s.quantity, s.total
FROM sales s
JOIN products p ON p.id = s.product_id
JOIN sales_agents a ON a.id = s.agent_id
WHERE s.sold_at >= $1 AND s.sold_at < $2
ORDER BY s.sold_at, s.id`
	rows, err := r.pool.Query(ctx, query, p.Start, p.End)
	if err != nil {
		return nil, mapPgError("list sale rows", err)
	}
	defer rows.Close()
	var out []SaleRow
	for rows.Next() {
		var (
			row        SaleRow
			pct, total pgtype.Numeric
		)
		if err := rows.Scan(&row.SaleID, &row.SoldAt, &row.ProductID, &row.ProductName, &row.Category,
			&row.AgentID, &row.AgentName, &pct, &row.Quantity, &total); err != nil {
			return nil, mapPgError("scan sale row", err)
		}
		row.CommissionPct = fromNumeric(pct)
		row.Total = fromNumeric(total)
		row.Commission = Commission(row.Total, row.CommissionPct)
		out = append(out, row)
	}
	return out, mapPgError("list sale rows", rows.Err())
}

// Pool exposes the underlying pool for seeding and health checks.
func (r *Postgres) Pool() *pgxpool.Pool {
	return r.pool
}

type pgTx struct {
	q querier
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (Product, error) {
	return getProduct(ctx, t.q, id)
}

func (t *pgTx) GetAgent(ctx context.Context, id int64) (SalesAgent, error) {
	return getAgent(ctx, t.q, id)
}

func (t *pgTx) FindProductByName(ctx context.Context, name string) (Product, error) {
	row := t.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE LOWER(name) = LOWER($1)`, name)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %q: %w", name, shared.ErrNotFound)
	}
	return p, mapPgError("find product", err)
}

func (t *pgTx) InsertProduct(ctx context.Context, p Product) (Product, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO products (name, category, unit_price, stock)
VALUES ($1, $2, $3, $4) RETURNING `+productColumns, p.Name, string(p.Category), toNumeric(p.UnitPrice), p.Stock)
	out, err := scanProduct(row)
	return out, mapPgError("insert product", err)
}

func (t *pgTx) UpdateProductPrice(ctx context.Context, id int64, price decimal.Decimal) (Product, error) {
	row := t.q.QueryRow(ctx, `UPDATE products SET unit_price = $2 WHERE id = $1 RETURNING `+productColumns, id, toNumeric(price))
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, mapPgError("update price", err)
}

func (t *pgTx) DecrementStockIfAvailable(ctx context.Context, productID, qty int64) (StockChange, error) {
	var remaining int64
	err := t.q.QueryRow(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2 RETURNING stock`, productID, qty).Scan(&remaining)
	if err == nil {
		return StockChange{OK: true, Remaining: remaining}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StockChange{}, mapPgError("decrement stock", err)
	}
	var current int64
	err = t.q.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockChange{}, fmt.Errorf("product %d: %w", productID, shared.ErrNotFound)
	}
	if err != nil {
		return StockChange{}, mapPgError("read stock", err)
	}
	return StockChange{OK: false, Remaining: current}, nil
}

func (t *pgTx) IncrementStock(ctx context.Context, productID, qty int64) (int64, error) {
	var stock int64
	err := t.q.QueryRow(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1 RETURNING stock`, productID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("product %d: %w", productID, shared.ErrNotFound)
	}
	return stock, mapPgError("increment stock", err)
}

func (t *pgTx) InsertSale(ctx context.Context, s SaleRecord) (SaleRecord, error) {
	var soldAt *time.Time
	if !s.SoldAt.IsZero() {
		soldAt = &s.SoldAt
	}
	row := t.q.QueryRow(ctx, `INSERT INTO sales (product_id, agent_id, quantity, total, sold_at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
RETURNING `+saleColumns, s.ProductID, s.AgentID, s.Quantity, toNumeric(s.Total), soldAt)
	out, err := scanSale(row)
	return out, mapPgError("insert sale", err)
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id int64) (SaleRecord, error) {
	return getSale(ctx, t.q, id, true)
}

func (t *pgTx) UpdateSale(ctx context.Context, id, qty int64, total decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `UPDATE sales SET quantity = $2, total = $3 WHERE id = $1`, id, qty, toNumeric(total))
	if err != nil {
		return mapPgError("update sale", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sale %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteSale(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return mapPgError("delete sale", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sale %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

const (
	productColumns = `id, name, category, unit_price, stock, created_at`
	saleColumns    = `id, product_id, agent_id, quantity, total, sold_at`
)

func queryProducts(ctx context.Context, q querier, sql string, args ...any) ([]Product, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPgError("list products", err)
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapPgError("scan product", err)
		}
		products = append(products, p)
	}
	return products, mapPgError("list products", rows.Err())
}

func getProduct(ctx context.Context, q querier, id int64) (Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, mapPgError("get product", err)
}

func getAgent(ctx context.Context, q querier, id int64) (SalesAgent, error) {
	agent, err := scanAgent(q.QueryRow(ctx, `SELECT id, name, commission_pct FROM sales_agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesAgent{}, fmt.Errorf("agent %d: %w", id, shared.ErrNotFound)
	}
	return agent, mapPgError("get agent", err)
}

func getSale(ctx context.Context, q querier, id int64, forUpdate bool) (SaleRecord, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSale(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleRecord{}, fmt.Errorf("sale %d: %w", id, shared.ErrNotFound)
	}
	return s, mapPgError("get sale", err)
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &price, &p.Stock, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	p.UnitPrice = fromNumeric(price)
	return p, nil
}

func scanAgent(row pgx.Row) (SalesAgent, error) {
	var (
		a   SalesAgent
		pct pgtype.Numeric
	)
	if err := row.Scan(&a.ID, &a.Name, &pct); err != nil {
		return SalesAgent{}, err
	}
	a.CommissionPct = fromNumeric(pct)
	return a, nil
}

func scanSale(row pgx.Row) (SaleRecord, error) {
	var (
		s     SaleRecord
		total pgtype.Numeric
	)
	if err := row.Scan(&s.ID, &s.ProductID, &s.AgentID, &s.Quantity, &total, &s.SoldAt); err != nil {
		return SaleRecord{}, err
	}
	s.Total = fromNumeric(total)
	return s, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func isDomainError(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrDuplicateProduct) ||
		errors.Is(err, shared.ErrInsufficientStock) ||
		errors.Is(err, shared.ErrInvalidArgument) ||
		errors.Is(err, shared.ErrIdempotencyConflict) ||
		errors.Is(err, shared.ErrStorage)
}

// mapPgError translates driver errors into shared domain errors.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == productNameIndex {
				return fmt.Errorf("%s: %w", op, shared.ErrDuplicateProduct)
			}
		case "23503":
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, shared.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, shared.ErrInvalidArgument)
		}
	}
	return shared.Storage(op, err)
}
