package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/twiliowhatsapp"
)

func TestTwilioCanonicalFormKeepsPlusPrefix(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	got, err := svc.ValidateAndCanonicalizeRecipient("5511999990000")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "+5511999990000" {
		t.Errorf("Expected E.164 form with plus, got %q", got)
	}
}

func TestTwilioSendListDegradesToNumberedText(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	msg := models.ListMessage{
		To:          "+5511999990000",
		Description: "Escolha uma cor:",
		Sections: []models.ListSection{{
			Title: "Opções",
			Rows: []models.ListRow{
				{RowID: "o1", Title: "Vermelho", Description: "cor quente"},
				{RowID: "o2", Title: "Azul"},
			},
		}},
	}
	if err := svc.SendList(context.Background(), msg); err != nil {
		t.Fatalf("SendList failed: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("Expected one message, got %d", len(mock.SentMessages))
	}
	body := mock.SentMessages[0].Body
	if !strings.Contains(body, "Escolha uma cor:") {
		t.Errorf("Expected prompt in body, got %q", body)
	}
	if !strings.Contains(body, "1. Vermelho") || !strings.Contains(body, "2. Azul") {
		t.Errorf("Expected numbered options, got %q", body)
	}
	if !strings.Contains(body, "cor quente") {
		t.Errorf("Expected option description, got %q", body)
	}
}

func TestTwilioWebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	handler := svc.WebhookHandler()

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999990000")
	form.Set("Body", "oi")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	go handler(rec, req)

	resp := <-svc.Responses()
	if resp.From != "5511999990000" {
		t.Errorf("Expected stripped sender, got %q", resp.From)
	}
	if resp.Body != "oi" {
		t.Errorf("Expected body forwarded, got %q", resp.Body)
	}
}

func TestTwilioNumberedReplyMapsToRowID(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	msg := models.ListMessage{
		To: "+5511999990000",
		Sections: []models.ListSection{{
			Rows: []models.ListRow{
				{RowID: "opt-red", Title: "Vermelho"},
				{RowID: "opt-blue", Title: "Azul"},
			},
		}},
	}
	if err := svc.SendList(context.Background(), msg); err != nil {
		t.Fatalf("SendList failed: %v", err)
	}

	handler := svc.WebhookHandler()
	post := func(body string) {
		form := url.Values{}
		form.Set("From", "whatsapp:+5511999990000")
		form.Set("Body", body)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		go handler(httptest.NewRecorder(), req)
	}

	post("2")
	if resp := <-svc.Responses(); resp.Body != "opt-blue" {
		t.Errorf("Expected numbered reply mapped to row ID, got %q", resp.Body)
	}

	post("9")
	if resp := <-svc.Responses(); resp.Body != "9" {
		t.Errorf("Expected out-of-range reply passed through, got %q", resp.Body)
	}

	post("Azul")
	if resp := <-svc.Responses(); resp.Body != "Azul" {
		t.Errorf("Expected textual reply passed through, got %q", resp.Body)
	}
}

func TestTwilioSendEmitsDeliveryReceipts(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.SendText(context.Background(), "+5511999990000", "", "oi"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusSent || r.To != "+5511999990000" {
		t.Errorf("Expected sent receipt, got %+v", r)
	}

	failing := NewTwilioService(failingSender{})
	if err := failing.SendText(context.Background(), "+5511999990000", "", "oi"); err == nil {
		t.Fatal("Expected send error")
	}
	if r := <-failing.Receipts(); r.Status != models.MessageStatusFailed {
		t.Errorf("Expected failed receipt, got %+v", r)
	}
}

type failingSender struct{}

func (failingSender) SendMessage(ctx context.Context, to, body string) error {
	return errors.New("twilio unavailable")
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	handler := svc.WebhookHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty form, got %d", rec.Code)
	}
}
