// Package analytics derives revenue, commission and target progress from the
// sales ledger.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/store"
)

const (
	dateLayout     = "2006-01-02"
	ratioPrecision = 4
)

// Summary holds the headline totals for a range.
type Summary struct {
	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	Count      int64           `json:"count"`
	Units      int64           `json:"units"`
}

// AgentTotal aggregates one agent's sales.
type AgentTotal struct {
	AgentID    int64           `json:"agent_id"`
	Name       string          `json:"name"`
	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	Count      int64           `json:"count"`
}

// ProductTotal aggregates one product's sales.
type ProductTotal struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  store.Category  `json:"category"`
	Revenue   decimal.Decimal `json:"revenue"`
	Units     int64           `json:"units"`
	Share     decimal.Decimal `json:"share"`
}

// DailyPoint is one calendar day of the time series.
type DailyPoint struct {
	Date       string          `json:"date"`
	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	Count      int64           `json:"count"`
}

// TargetProgress compares revenue with the monthly target.
type TargetProgress struct {
	Target    decimal.Decimal `json:"target"`
	Ratio     decimal.Decimal `json:"ratio"`
	Progress  decimal.Decimal `json:"progress"`
	Reached   bool            `json:"reached"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Result is the full aggregate for a date range. Empty marks a range with no
// sales, which is a valid answer rather than an error.
type Result struct {
	From           string         `json:"from"`
	To             string         `json:"to"`
	Empty          bool           `json:"empty"`
	Summary        Summary        `json:"summary"`
	ByAgent        []AgentTotal   `json:"by_agent"`
	ByProduct      []ProductTotal `json:"by_product"`
	ByProductUnits []ProductTotal `json:"by_product_units"`
	Daily          []DailyPoint   `json:"daily"`
	Target         TargetProgress `json:"target"`
}

// Compute folds rows into a Result. Commission is taken per row so agents with
// different rates are weighted correctly. Days are bucketed in loc.
func Compute(rows []store.SaleRow, rng store.DateRange, target decimal.Decimal, loc *time.Location) Result {
	if loc == nil {
		loc = time.UTC
	}
	res := Result{
		From:           rng.From.Format(dateLayout),
		To:             rng.To.Format(dateLayout),
		Empty:          len(rows) == 0,
		ByAgent:        []AgentTotal{},
		ByProduct:      []ProductTotal{},
		ByProductUnits: []ProductTotal{},
		Daily:          []DailyPoint{},
		Summary:        Summary{Revenue: decimal.Zero, Commission: decimal.Zero},
	}

	agents := make(map[int64]*AgentTotal)
	products := make(map[int64]*ProductTotal)
	days := make(map[string]*DailyPoint)

	for _, row := range rows {
		res.Summary.Revenue = res.Summary.Revenue.Add(row.Total)
		res.Summary.Commission = res.Summary.Commission.Add(row.Commission)
		res.Summary.Count++
		res.Summary.Units += row.Quantity

		agent, ok := agents[row.AgentID]
		if !ok {
			agent = &AgentTotal{AgentID: row.AgentID, Name: row.AgentName, Revenue: decimal.Zero, Commission: decimal.Zero}
			agents[row.AgentID] = agent
		}
		agent.Revenue = agent.Revenue.Add(row.Total)
		agent.Commission = agent.Commission.Add(row.Commission)
		agent.Count++

		product, ok := products[row.ProductID]
		if !ok {
			product = &ProductTotal{ProductID: row.ProductID, Name: row.ProductName, Category: row.Category, Revenue: decimal.Zero}
			products[row.ProductID] = product
		}
		product.Revenue = product.Revenue.Add(row.Total)
		product.Units += row.Quantity

		key := row.SoldAt.In(loc).Format(dateLayout)
		day, ok := days[key]
		if !ok {
			day = &DailyPoint{Date: key, Revenue: decimal.Zero, Commission: decimal.Zero}
			days[key] = day
		}
		day.Revenue = day.Revenue.Add(row.Total)
		day.Commission = day.Commission.Add(row.Commission)
		day.Count++
	}

	for _, agent := range agents {
		res.ByAgent = append(res.ByAgent, *agent)
	}
	sort.SliceStable(res.ByAgent, func(i, j int) bool {
		a, b := res.ByAgent[i], res.ByAgent[j]
		if c := a.Commission.Cmp(b.Commission); c != 0 {
			return c > 0
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.AgentID < b.AgentID
	})

	for _, product := range products {
		product.Share = share(product.Revenue, res.Summary.Revenue)
		res.ByProduct = append(res.ByProduct, *product)
	}
	sort.SliceStable(res.ByProduct, func(i, j int) bool {
		a, b := res.ByProduct[i], res.ByProduct[j]
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ProductID < b.ProductID
	})
	res.ByProductUnits = append(res.ByProductUnits, res.ByProduct...)
	sort.SliceStable(res.ByProductUnits, func(i, j int) bool {
		a, b := res.ByProductUnits[i], res.ByProductUnits[j]
		if a.Units != b.Units {
			return a.Units > b.Units
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ProductID < b.ProductID
	})

	for _, day := range days {
		res.Daily = append(res.Daily, *day)
	}
	sort.Slice(res.Daily, func(i, j int) bool {
		return res.Daily[i].Date < res.Daily[j].Date
	})

	res.Target = Progress(res.Summary.Revenue, target)
	return res
}

// Progress computes min(revenue/target, 1). A non-positive target yields zero progress.
func Progress(revenue, target decimal.Decimal) TargetProgress {
	p := TargetProgress{Target: target, Ratio: decimal.Zero, Progress: decimal.Zero, Remaining: decimal.Zero}
	if !target.IsPositive() {
		return p
	}
	p.Ratio = revenue.DivRound(target, ratioPrecision)
	p.Progress = decimal.Min(p.Ratio, decimal.NewFromInt(1))
	p.Reached = revenue.GreaterThanOrEqual(target)
	if !p.Reached {
		p.Remaining = target.Sub(revenue)
	}
	return p
}

func share(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(total, ratioPrecision)
}
