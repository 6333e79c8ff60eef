package products

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Service routes product lookups to registered providers by name.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewService creates a product service with the given providers.
func NewService(providers ...Provider) *Service {
	s := &Service{providers: make(map[string]Provider)}
	for _, p := range providers {
		s.Register(p)
	}
	return s
}

// Register adds a provider. Registering a name twice replaces the
// previous provider.
func (s *Service) Register(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.Name()]; !ok {
		s.order = append(s.order, p.Name())
	}
	s.providers[p.Name()] = p
	slog.Debug("Products Register provider added", "provider", p.Name())
}

// GetProductByID fetches a product from the named provider. With an empty
// provider name every registered provider is tried in registration order
// and the first hit wins.
func (s *Service) GetProductByID(ctx context.Context, providerName, id string) (*models.Product, error) {
	if id == "" {
		return nil, fmt.Errorf("product ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerName != "" {
		p, ok := s.providers[providerName]
		if !ok {
			return nil, fmt.Errorf("unknown product provider: %s", providerName)
		}
		return p.GetProductByID(ctx, id)
	}

	for _, name := range s.order {
		product, err := s.providers[name].GetProductByID(ctx, id)
		if err == nil {
			return product, nil
		}
		slog.Debug("Products GetProductByID provider miss", "provider", name, "productID", id, "error", err)
	}
	return nil, models.ErrProductNotFound
}

// Search queries the provider named in the filter, or every provider
// when the filter leaves it empty.
func (s *Service) Search(ctx context.Context, filter models.ProductFilter) (*models.PaginatedProducts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.ProviderName != "" {
		p, ok := s.providers[filter.ProviderName]
		if !ok {
			return nil, fmt.Errorf("unknown product provider: %s", filter.ProviderName)
		}
		return p.Search(ctx, filter)
	}

	combined := &models.PaginatedProducts{Page: 1, Limit: filter.Limit}
	for _, name := range s.order {
		page, err := s.providers[name].Search(ctx, filter)
		if err != nil {
			slog.Warn("Products Search provider failed", "provider", name, "error", err)
			continue
		}
		combined.Items = append(combined.Items, page.Items...)
		combined.Total += page.Total
	}
	combined.TotalPages = 1
	return combined, nil
}

// Providers returns the registered provider names in registration order.
func (s *Service) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
