// Package products aggregates product catalog providers behind a single
// lookup service used by product nodes in conversation flows.
package products

import (
	"context"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Provider is a product catalog backend. Implementations return
// models.ErrProductNotFound when the ID does not exist.
type Provider interface {
	// Name identifies the provider in flow node configuration.
	Name() string

	// GetProductByID fetches a single product.
	GetProductByID(ctx context.Context, id string) (*models.Product, error)

	// Search returns a page of products matching the filter.
	Search(ctx context.Context, filter models.ProductFilter) (*models.PaginatedProducts, error)
}
