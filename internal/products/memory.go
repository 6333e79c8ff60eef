package products

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// MemoryProviderName identifies the in-memory catalog provider.
const MemoryProviderName = "local"

// Memory is an in-memory Provider. It backs flows whose products are
// managed through the API rather than an external catalog, and serves as
// the catalog fake in tests.
type Memory struct {
	mu       sync.RWMutex
	products map[string]models.Product
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{products: make(map[string]models.Product)}
}

// Name identifies the provider.
func (m *Memory) Name() string { return MemoryProviderName }

// Put adds or replaces a product.
func (m *Memory) Put(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ProviderName == "" {
		p.ProviderName = MemoryProviderName
	}
	m.products[p.ID] = p
}

// GetProductByID fetches a product by ID.
func (m *Memory) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

// Search returns products matching the filter, ordered by name.
func (m *Memory) Search(ctx context.Context, filter models.ProductFilter) (*models.PaginatedProducts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Product
	term := strings.ToLower(filter.SearchTerm)
	for _, p := range m.products {
		if term != "" && !strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if filter.MinPrice > 0 && p.Price < filter.MinPrice {
			continue
		}
		if filter.MaxPrice > 0 && p.Price > filter.MaxPrice {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	return &models.PaginatedProducts{
		Items:      matched[offset:end],
		Total:      total,
		Page:       offset/limit + 1,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}
