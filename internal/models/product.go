package models

import (
	"errors"
	"time"
)

// Product is the normalized product shape shared by all providers.
type Product struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Price             float64                `json:"price"`
	Description       string                 `json:"description,omitempty"`
	ImageURL          string                 `json:"imageUrl,omitempty"`
	Category          string                 `json:"category,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ProviderName      string                 `json:"providerName"`
	ProviderProductID string                 `json:"providerProductId,omitempty"`
	Active            bool                   `json:"active"`
	CreatedAt         time.Time              `json:"createdAt,omitempty"`
	UpdatedAt         time.Time              `json:"updatedAt,omitempty"`
}

// ProductFilter narrows a product search.
type ProductFilter struct {
	SearchTerm   string  `json:"searchTerm,omitempty"`
	Category     string  `json:"category,omitempty"`
	MinPrice     float64 `json:"minPrice,omitempty"`
	MaxPrice     float64 `json:"maxPrice,omitempty"`
	ProviderName string  `json:"providerName,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Offset       int     `json:"offset,omitempty"`
}

// PaginatedProducts is one page of a product search result.
type PaginatedProducts struct {
	Items      []Product `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"totalPages"`
}

// ErrProductNotFound indicates the provider has no product with the given ID.
var ErrProductNotFound = errors.New("product not found")
