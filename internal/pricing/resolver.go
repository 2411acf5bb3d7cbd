package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"go.uber.org/zap"
)

// Catalog is the price source consumed by the resolver.
type Catalog interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetVariantByID(ctx context.Context, id int64) (*models.Variant, error)
	ListSaleEventsByProduct(ctx context.Context, productID int64) ([]models.SaleEvent, error)
}

// Resolver resolves the effective unit price of cart lines.
type Resolver struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewResolver creates a new price resolver
func NewResolver(catalog Catalog, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// ResolvedLines is the outcome of pricing every line of a cart.
type ResolvedLines struct {
	Items            models.CartItems
	OriginalSubtotal int64
}

// Lines resolves every line and returns the items with their unit prices
// filled in, plus the pre-discount subtotal.
func (r *Resolver) Lines(ctx context.Context, items []models.CartItem, now time.Time) ResolvedLines {
	out := ResolvedLines{Items: make(models.CartItems, 0, len(items))}
	for _, item := range items {
		if item.Quantity < 1 {
			r.logger.Warn("Dropping cart line with non-positive quantity",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity))
			continue
		}
		item.UnitPrice = r.UnitPrice(ctx, item, now)
		out.OriginalSubtotal = addClamped(out.OriginalSubtotal, mulClamped(item.UnitPrice, int64(item.Quantity)))
		out.Items = append(out.Items, item)
	}
	return out
}

// UnitPrice returns the price for one unit of the line. Missing price data
// resolves to zero and is reported as a data-integrity warning.
func (r *Resolver) UnitPrice(ctx context.Context, item models.CartItem, now time.Time) int64 {
	sales, err := r.catalog.ListSaleEventsByProduct(ctx, item.ProductID)
	if err != nil {
		r.warn("sale_lookup_failed", item, err)
	} else if sale, ok := ActiveSale(sales, now); ok {
		return sale.SalePrice
	}

	if item.VariantID != nil {
		variant, err := r.catalog.GetVariantByID(ctx, *item.VariantID)
		if err != nil {
			r.warn("variant_lookup_failed", item, err)
			return 0
		}
		if variant.Price == nil {
			r.warn("variant_price_missing", item, nil)
			return 0
		}
		return *variant.Price
	}

	product, err := r.catalog.GetProductByID(ctx, item.ProductID)
	if err != nil {
		r.warn("product_lookup_failed", item, err)
		return 0
	}
	if product.Price == nil {
		r.warn("product_price_missing", item, nil)
		return 0
	}
	return *product.Price
}

func (r *Resolver) warn(reason string, item models.CartItem, err error) {
	util.PriceResolutionWarningsTotal.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int64("product_id", item.ProductID),
	}
	if item.VariantID != nil {
		fields = append(fields, zap.Int64("variant_id", *item.VariantID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn("Price data integrity warning", fields...)
}

// ActiveSale picks the sale event covering now. An event counts when its
// cached status is active, or when it is not expired and now falls inside
// its window. Earliest start wins.
func ActiveSale(sales []models.SaleEvent, now time.Time) (models.SaleEvent, bool) {
	if len(sales) == 0 {
		return models.SaleEvent{}, false
	}
	ordered := make([]models.SaleEvent, len(sales))
	copy(ordered, sales)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartsAt.Before(ordered[j].StartsAt)
	})

	for _, sale := range ordered {
		if sale.Status == models.SaleStatusActive {
			return sale, true
		}
		if sale.Status != models.SaleStatusExpired && withinWindow(now, sale.StartsAt, sale.EndsAt) {
			return sale, true
		}
	}
	return models.SaleEvent{}, false
}

func withinWindow(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}
