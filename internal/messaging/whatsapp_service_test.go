package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain number", "5511999990000", "5511999990000", false},
		{"plus prefix stripped", "+5511999990000", "5511999990000", false},
		{"surrounding spaces", "  5511999990000 ", "5511999990000", false},
		{"empty", "", "", true},
		{"letters", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSendTextRejectsInvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendText(context.Background(), "bogus", "", "oi"); err == nil {
		t.Error("Expected error for invalid recipient")
	}
	if err := svc.SendText(context.Background(), "5511999990000", "", "oi"); err != nil {
		t.Errorf("Expected send to succeed, got %v", err)
	}
}

func TestSendListCanonicalizesRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	msg := models.ListMessage{
		To:       "+5511999990000",
		Sections: []models.ListSection{{Title: "Opções", Rows: []models.ListRow{{RowID: "o1", Title: "Um"}}}},
	}
	if err := svc.SendList(context.Background(), msg); err != nil {
		t.Errorf("Expected list send to succeed, got %v", err)
	}
}

func TestEmitResponseDeliversToConsumer(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), WithInstanceName("principal"))

	go svc.EmitResponse(models.Response{From: "5511999990000", Body: "oi"})

	resp := <-svc.Responses()
	if resp.From != "5511999990000" || resp.Body != "oi" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestReceiptEventsSurfaceDeliveryStatus(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleReceipt(&events.Receipt{
		MessageSource: types.MessageSource{Sender: types.NewJID("5511999990000", whatsapp.JIDSuffix)},
		Type:          events.ReceiptTypeRead,
		Timestamp:     time.Now(),
	})

	r := <-svc.Receipts()
	if r.To != "5511999990000" || r.Status != models.MessageStatusRead {
		t.Errorf("Unexpected receipt %+v", r)
	}

	// Retry receipts carry no delivery status and are ignored.
	svc.handleReceipt(&events.Receipt{Type: events.ReceiptTypeRetry})
	select {
	case r := <-svc.Receipts():
		t.Errorf("Expected no receipt for retry event, got %+v", r)
	default:
	}
}

func TestStopIsSafeDuringConcurrentEmits(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.EmitResponse(models.Response{From: "5511999990000", Body: "oi"})
			svc.EmitReceipt(models.Receipt{To: "5511999990000", Status: models.MessageStatusSent})
		}()
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	wg.Wait()
}

func TestStoppedServiceRefusesSends(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if err := svc.SendText(context.Background(), "5511999990000", "", "oi"); err != ErrServiceStopped {
		t.Errorf("Expected ErrServiceStopped, got %v", err)
	}

	if _, ok := <-svc.Responses(); ok {
		t.Error("Expected responses channel closed")
	}
}
