package products

import (
	"context"
	"errors"
	"testing"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

func seededMemory() *Memory {
	m := NewMemory()
	m.Put(models.Product{ID: "p1", Name: "Plano Básico", Price: 19.9, Category: "planos"})
	m.Put(models.Product{ID: "p2", Name: "Plano Premium", Price: 49.9, Category: "planos"})
	m.Put(models.Product{ID: "p3", Name: "Suporte Avulso", Price: 9.9, Category: "servicos"})
	return m
}

func TestServiceRoutesToNamedProvider(t *testing.T) {
	svc := NewService(seededMemory())

	p, err := svc.GetProductByID(context.Background(), MemoryProviderName, "p1")
	if err != nil {
		t.Fatalf("GetProductByID failed: %v", err)
	}
	if p.Name != "Plano Básico" {
		t.Errorf("Expected Plano Básico, got %q", p.Name)
	}

	if _, err := svc.GetProductByID(context.Background(), "nope", "p1"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestServiceTriesAllProvidersWhenUnnamed(t *testing.T) {
	svc := NewService(seededMemory())

	p, err := svc.GetProductByID(context.Background(), "", "p2")
	if err != nil {
		t.Fatalf("GetProductByID failed: %v", err)
	}
	if p.ID != "p2" {
		t.Errorf("Expected p2, got %q", p.ID)
	}

	if _, err := svc.GetProductByID(context.Background(), "", "ghost"); !errors.Is(err, models.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound, got %v", err)
	}
}

func TestServiceRejectsEmptyProductID(t *testing.T) {
	svc := NewService(seededMemory())
	if _, err := svc.GetProductByID(context.Background(), "", ""); err == nil {
		t.Error("Expected error for empty product ID")
	}
}

func TestMemorySearchFiltersAndPaginates(t *testing.T) {
	m := seededMemory()

	page, err := m.Search(context.Background(), models.ProductFilter{Category: "planos"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Expected 2 planos, got %d", page.Total)
	}

	page, err = m.Search(context.Background(), models.ProductFilter{SearchTerm: "premium"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "p2" {
		t.Errorf("Expected the premium plan only, got %+v", page.Items)
	}

	page, err = m.Search(context.Background(), models.ProductFilter{MinPrice: 15, MaxPrice: 25})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "p1" {
		t.Errorf("Expected the basic plan in the price band, got %+v", page.Items)
	}

	page, err = m.Search(context.Background(), models.ProductFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 3 || page.TotalPages != 2 {
		t.Errorf("Expected paginated result 2 of 3, got %+v", page)
	}
}
