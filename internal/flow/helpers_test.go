package flow

import (
	"context"
	"sync"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// fakeMessenger records outbound traffic for assertions.
type fakeMessenger struct {
	mu    sync.Mutex
	texts []sentText
	lists []models.ListMessage
}

type sentText struct {
	To   string
	Body string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{}
}

func (m *fakeMessenger) SendText(ctx context.Context, to, instanceName, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, sentText{To: to, Body: body})
	return nil
}

func (m *fakeMessenger) SendList(ctx context.Context, msg models.ListMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, msg)
	return nil
}

func (m *fakeMessenger) sentTexts() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentText, len(m.texts))
	copy(out, m.texts)
	return out
}

func (m *fakeMessenger) sentLists() []models.ListMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ListMessage, len(m.lists))
	copy(out, m.lists)
	return out
}

func (m *fakeMessenger) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1].Body
}

// fakeProducts serves products from a map.
type fakeProducts struct {
	byID map[string]models.Product
}

func newFakeProducts(items ...models.Product) *fakeProducts {
	byID := make(map[string]models.Product, len(items))
	for _, p := range items {
		byID[p.ID] = p
	}
	return &fakeProducts{byID: byID}
}

func (f *fakeProducts) GetProductByID(ctx context.Context, providerName, id string) (*models.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}
