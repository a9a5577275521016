package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/salesops/salesops/internal/inventory"
	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

// SeedAgent is a demo sales agent.
type SeedAgent struct {
	Name          string
	CommissionPct decimal.Decimal
}

// DemoAgents are loaded by the seed command and by memory-driver runs.
var DemoAgents = []SeedAgent{
	{Name: "Ana Souza", CommissionPct: decimal.RequireFromString("5.00")},
	{Name: "Bruno Lima", CommissionPct: decimal.RequireFromString("7.50")},
	{Name: "Carla Dias", CommissionPct: decimal.RequireFromString("10.00")},
}

// DemoProducts are loaded alongside DemoAgents.
var DemoProducts = []inventory.RegisterProductInput{
	{Name: "Wireless Mouse", Category: string(store.CategoryPeripherals), Price: decimal.RequireFromString("29.90"), InitialStock: 50},
	{Name: "Mechanical Keyboard", Category: string(store.CategoryPeripherals), Price: decimal.RequireFromString("149.00"), InitialStock: 20},
	{Name: "27in Monitor", Category: string(store.CategoryHardware), Price: decimal.RequireFromString("1299.00"), InitialStock: 8},
	{Name: "USB-C Cable", Category: string(store.CategoryAccessories), Price: decimal.RequireFromString("19.90"), InitialStock: 120},
	{Name: "Office Suite License", Category: string(store.CategorySoftware), Price: decimal.RequireFromString("399.00"), InitialStock: 30},
}

// ProductRegistrar registers catalogue entries.
type ProductRegistrar interface {
	RegisterProduct(ctx context.Context, input inventory.RegisterProductInput) (store.Product, error)
}

// SeedResult counts what Seed inserted.
type SeedResult struct {
	Agents   int
	Products int
}

// Seed inserts the demo agents and products. Agents already present by name
// are skipped, as are products whose name is taken.
func Seed(ctx context.Context, repo store.Repository, agents AgentWriter, products ProductRegistrar, logger *slog.Logger) (SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res SeedResult

	existing, err := repo.ListAgents(ctx)
	if err != nil {
		return res, fmt.Errorf("seed: list agents: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		known[a.Name] = true
	}
	for _, a := range DemoAgents {
		if known[a.Name] {
			continue
		}
		if _, err := agents.InsertAgent(ctx, a.Name, a.CommissionPct); err != nil {
			return res, fmt.Errorf("seed: agent %s: %w", a.Name, err)
		}
		res.Agents++
	}

	for _, p := range DemoProducts {
		_, err := products.RegisterProduct(ctx, p)
		switch {
		case err == nil:
			res.Products++
		case errors.Is(err, shared.ErrDuplicateProduct):
			logger.Debug("seed product exists", slog.String("name", p.Name))
		default:
			return res, fmt.Errorf("seed: product %s: %w", p.Name, err)
		}
	}
	logger.Info("seed complete", slog.Int("agents", res.Agents), slog.Int("products", res.Products))
	return res, nil
}
