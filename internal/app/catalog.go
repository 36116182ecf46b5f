package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// demoCatalog заполняет пустой каталог при локальном запуске.
var demoCatalog = []domain.Product{
	{Name: "Mechanical Keyboard", Description: "87-key, hot-swappable switches", Price: decimal.RequireFromString("19.99")},
	{Name: "Wireless Mouse", Description: "2.4 GHz, 1600 dpi", Price: decimal.RequireFromString("12.50")},
	{Name: "USB-C Hub", Description: "7-in-1, 100W pass-through", Price: decimal.RequireFromString("34.00")},
	{Name: "Laptop Stand", Description: "Aluminium, adjustable height", Price: decimal.RequireFromString("27.75")},
	{Name: "Monitor Light Bar", Price: decimal.RequireFromString("45.90")},
}

// seedCatalog добавляет демо-товары, только если каталог пуст.
func seedCatalog(ctx context.Context, products domain.ProductRepository, logger *log.Entry) (int, error) {
	_, total, err := products.List(ctx, domain.ListQuery{Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if total > 0 {
		logger.WithField("products", total).Debug("catalog is not empty, skip seeding")
		return 0, nil
	}

	for i, product := range demoCatalog {
		if _, err := products.Create(ctx, product); err != nil {
			return i, fmt.Errorf("seed product %q: %w", product.Name, err)
		}
	}
	logger.WithField("products", len(demoCatalog)).Info("demo catalog seeded")
	return len(demoCatalog), nil
}
