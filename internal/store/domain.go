// Package store defines the sales ledger records and the persistence contract
// shared by the Postgres and in-memory backends.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products in the catalogue.
type Category string

// Supported product categories.
const (
	CategoryPeripherals Category = "Peripherals"
	CategoryHardware    Category = "Hardware"
	CategorySoftware    Category = "Software"
	CategoryAccessories Category = "Accessories"
	CategoryServices    Category = "Services"
	CategoryOther       Category = "Other"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryPeripherals,
	CategoryHardware,
	CategorySoftware,
	CategoryAccessories,
	CategoryServices,
	CategoryOther,
}

// ParseCategory resolves s case-insensitively against Categories.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

var hundred = decimal.NewFromInt(100)

// Product is a catalogue item with its current stock.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  Category        `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int64           `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
}

// SalesAgent earns a commission percentage on the sales attributed to them.
type SalesAgent struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	CommissionPct decimal.Decimal `json:"commission_pct"`
}

// CommissionOn returns amount * CommissionPct / 100.
func (a SalesAgent) CommissionOn(amount decimal.Decimal) decimal.Decimal {
	return Commission(amount, a.CommissionPct)
}

// Commission returns amount * pct / 100.
func Commission(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// SaleRecord is one ledger entry. Total is fixed when the sale is written.
type SaleRecord struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	AgentID   int64           `json:"agent_id"`
	Quantity  int64           `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	SoldAt    time.Time       `json:"sold_at"`
}

// SaleRow is a sale joined with its product and agent.
type SaleRow struct {
	SaleID        int64           `json:"sale_id"`
	SoldAt        time.Time       `json:"sold_at"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Category      Category        `json:"category"`
	AgentID       int64           `json:"agent_id"`
	AgentName     string          `json:"agent_name"`
	CommissionPct decimal.Decimal `json:"commission_pct"`
	Quantity      int64           `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	Commission    decimal.Decimal `json:"commission"`
}

// StockChange reports the outcome of a conditional decrement.
// Remaining is the stock after the decrement, or the untouched stock when OK is false.
type StockChange struct {
	OK        bool
	Remaining int64
}

// Period is a half-open time interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds in loc.
func ParseDateRange(from, to string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	f, err := time.ParseInLocation(dateLayout, strings.TrimSpace(from), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse from: %w", err)
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(to), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse to: %w", err)
	}
	return DateRange{From: f, To: t}, nil
}

// Validate rejects ranges whose start is after their end.
func (r DateRange) Validate() error {
	if truncateDay(r.From, time.UTC).After(truncateDay(r.To, time.UTC)) {
		return fmt.Errorf("range start %s is after end %s", r.From.Format(dateLayout), r.To.Format(dateLayout))
	}
	return nil
}

// Period converts the range to [From 00:00, To+1 00:00) in loc.
func (r DateRange) Period(loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	return Period{
		Start: truncateDay(r.From, loc),
		End:   truncateDay(r.To, loc).AddDate(0, 0, 1),
	}
}

// String renders the range as "from..to".
func (r DateRange) String() string {
	return r.From.Format(dateLayout) + ".." + r.To.Format(dateLayout)
}

// truncateDay keeps the calendar date of t as seen in its own location.
func truncateDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// MonthToDate returns the range from the first day of now's month to now's date, in loc.
func MonthToDate(now time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return DateRange{
		From: time.Date(y, m, 1, 0, 0, 0, 0, loc),
		To:   time.Date(y, m, d, 0, 0, 0, 0, loc),
	}
}
