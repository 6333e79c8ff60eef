package products

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Constants for the UpMidiAss provider.
const (
	// UpMidiAssProviderName identifies this provider in node configuration.
	UpMidiAssProviderName = "upmidiass"
	// DefaultUpMidiAssBaseURL is the production API endpoint.
	DefaultUpMidiAssBaseURL = "https://upmidiass.net/api"

	defaultSearchLimit = 10
	requestTimeout     = 15 * time.Second
)

// UpMidiAssOpts holds configuration options for the UpMidiAss provider.
type UpMidiAssOpts struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// UpMidiAssOption defines a configuration option for the UpMidiAss provider.
type UpMidiAssOption func(*UpMidiAssOpts)

// WithUpMidiAssBaseURL overrides the API base URL.
func WithUpMidiAssBaseURL(u string) UpMidiAssOption {
	return func(o *UpMidiAssOpts) { o.BaseURL = u }
}

// WithUpMidiAssAPIKey sets the bearer token for API requests.
func WithUpMidiAssAPIKey(key string) UpMidiAssOption {
	return func(o *UpMidiAssOpts) { o.APIKey = key }
}

// WithUpMidiAssHTTPClient injects a custom HTTP client.
func WithUpMidiAssHTTPClient(c *http.Client) UpMidiAssOption {
	return func(o *UpMidiAssOpts) { o.Client = c }
}

// UpMidiAss is a Provider backed by the UpMidiAss catalog API.
type UpMidiAss struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpMidiAss creates an UpMidiAss catalog provider.
func NewUpMidiAss(opts ...UpMidiAssOption) *UpMidiAss {
	cfg := UpMidiAssOpts{
		BaseURL: DefaultUpMidiAssBaseURL,
		Client:  &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &UpMidiAss{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, client: cfg.Client}
}

// Name identifies the provider.
func (u *UpMidiAss) Name() string { return UpMidiAssProviderName }

// apiProduct mirrors the UpMidiAss wire format.
type apiProduct struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	ImageURL    string      `json:"image_url"`
	Category    string      `json:"category"`
	Active      *bool       `json:"active"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

type apiEnvelope struct {
	Data apiProduct `json:"data"`
}

type apiListEnvelope struct {
	Data []apiProduct `json:"data"`
	Meta struct {
		Total       int `json:"total"`
		CurrentPage int `json:"current_page"`
		PerPage     int `json:"per_page"`
		LastPage    int `json:"last_page"`
	} `json:"meta"`
}

// GetProductByID fetches a single product from the API.
func (u *UpMidiAss) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var envelope apiEnvelope
	status, err := u.doGet(ctx, u.baseURL+"/products/"+url.PathEscape(id), nil, &envelope)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || envelope.Data.ID == "" {
		return nil, models.ErrProductNotFound
	}
	product := u.mapProduct(envelope.Data)
	return &product, nil
}

// Search returns a page of products matching the filter.
func (u *UpMidiAss) Search(ctx context.Context, filter models.ProductFilter) (*models.PaginatedProducts, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	params := url.Values{}
	if filter.SearchTerm != "" {
		params.Set("search", filter.SearchTerm)
	}
	if filter.Category != "" {
		params.Set("category", filter.Category)
	}
	if filter.MinPrice > 0 {
		params.Set("min_price", strconv.FormatFloat(filter.MinPrice, 'f', -1, 64))
	}
	if filter.MaxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(filter.MaxPrice, 'f', -1, 64))
	}
	params.Set("page", strconv.Itoa(filter.Offset/limit+1))
	params.Set("limit", strconv.Itoa(limit))

	var envelope apiListEnvelope
	if _, err := u.doGet(ctx, u.baseURL+"/products", params, &envelope); err != nil {
		return nil, err
	}

	items := make([]models.Product, 0, len(envelope.Data))
	for _, p := range envelope.Data {
		items = append(items, u.mapProduct(p))
	}
	result := &models.PaginatedProducts{
		Items:      items,
		Total:      envelope.Meta.Total,
		Page:       envelope.Meta.CurrentPage,
		Limit:      envelope.Meta.PerPage,
		TotalPages: envelope.Meta.LastPage,
	}
	if result.Total == 0 {
		result.Total = len(items)
	}
	if result.Page == 0 {
		result.Page = 1
	}
	if result.Limit == 0 {
		result.Limit = limit
	}
	if result.TotalPages == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

func (u *UpMidiAss) doGet(ctx context.Context, rawURL string, params url.Values, out interface{}) (int, error) {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build UpMidiAss request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		slog.Error("UpMidiAss request failed", "url", rawURL, "error", err)
		return 0, fmt.Errorf("UpMidiAss request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("UpMidiAss returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode UpMidiAss response: %w", err)
	}
	return resp.StatusCode, nil
}

// mapProduct converts the API wire format to the normalized product shape.
// IDs get a provider prefix to avoid collisions with other catalogs.
func (u *UpMidiAss) mapProduct(p apiProduct) models.Product {
	price, _ := p.Price.Float64()
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	product := models.Product{
		ID:                UpMidiAssProviderName + "-" + p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Price:             price,
		ImageURL:          p.ImageURL,
		Category:          p.Category,
		ProviderName:      UpMidiAssProviderName,
		ProviderProductID: p.ID,
		Active:            active,
	}
	if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		product.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil {
		product.UpdatedAt = t
	}
	return product
}
