package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/salesops/salesops/internal/analytics"
	"github.com/salesops/salesops/internal/store"
)

const timestampLayout = "2006-01-02 15:04:05"

var salesHeader = []string{
	"Sale ID", "Sold At", "Agent", "Commission %", "Product", "Category",
	"Quantity", "Total", "Commission",
}

// WriteSalesCSV writes the joined ledger, one row per sale.
func WriteSalesCSV(w io.Writer, rows []store.SaleRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(salesHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.FormatInt(row.SaleID, 10),
			row.SoldAt.Format(timestampLayout),
			row.AgentName,
			row.CommissionPct.StringFixed(2),
			row.ProductName,
			string(row.Category),
			strconv.FormatInt(row.Quantity, 10),
			row.Total.StringFixed(2),
			row.Commission.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteSummaryCSV emits the headline metrics and per-agent totals.
func WriteSummaryCSV(w io.Writer, res analytics.Result) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"From", res.From},
		{"To", res.To},
		{"Revenue", res.Summary.Revenue.StringFixed(2)},
		{"Commission", res.Summary.Commission.StringFixed(2)},
		{"Sales", strconv.FormatInt(res.Summary.Count, 10)},
		{"Units", strconv.FormatInt(res.Summary.Units, 10)},
		{"Target", res.Target.Target.StringFixed(2)},
		{"Progress", res.Target.Progress.StringFixed(4)},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	if err := writer.Write([]string{}); err != nil {
		return err
	}
	if err := writer.Write([]string{"Agent", "Revenue", "Commission", "Sales"}); err != nil {
		return err
	}
	for _, agent := range res.ByAgent {
		if err := writer.Write([]string{
			agent.Name,
			agent.Revenue.StringFixed(2),
			agent.Commission.StringFixed(2),
			strconv.FormatInt(agent.Count, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
