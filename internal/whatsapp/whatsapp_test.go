package whatsapp

import (
	"context"
	"testing"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

var _ Sender = (*Client)(nil)
var _ Sender = (*MockClient)(nil)

func TestSendMessageRequiresInitializedClient(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "5511999990000", "oi"); err == nil {
		t.Error("Expected error for uninitialized client")
	}
	if err := c.SendListMessage(context.Background(), models.ListMessage{To: "5511999990000"}); err == nil {
		t.Error("Expected error for uninitialized client")
	}
}

func TestMockClientSendsSucceed(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "5511999990000", "oi"); err != nil {
		t.Errorf("MockClient SendMessage failed: %v", err)
	}
	msg := models.ListMessage{
		To:       "5511999990000",
		Sections: []models.ListSection{{Rows: []models.ListRow{{RowID: "o1", Title: "Um"}}}},
	}
	if err := m.SendListMessage(context.Background(), msg); err != nil {
		t.Errorf("MockClient SendListMessage failed: %v", err)
	}
}
