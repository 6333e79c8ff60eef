package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/twiliowhatsapp"
)

// TwilioService implements Service on top of the Twilio WhatsApp API.
// Twilio has no native single-select list message, so SendList renders a
// numbered text menu instead; users reply with the option number or text.
// Numbered replies are mapped back onto the row ID of the menu most
// recently sent to the contact before being emitted.
type TwilioService struct {
	client       twiliowhatsapp.Sender
	instanceName string
	responses    chan models.Response
	receipts     chan models.Receipt
	menuMu       sync.Mutex
	menus        map[string][]string
	stopMu       sync.RWMutex
	stopOnce     sync.Once
	stopped      chan struct{}
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithTwilioInstanceName tags inbound responses with the given instance name.
func WithTwilioInstanceName(name string) TwilioOption {
	return func(s *TwilioService) { s.instanceName = name }
}

// NewTwilioService creates a messaging service backed by Twilio.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:       client,
		instanceName: "twilio",
		responses:    make(chan models.Response, DefaultChannelBufferSize),
		receipts:     make(chan models.Receipt, DefaultChannelBufferSize),
		menus:        make(map[string][]string),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient validates a phone number and ensures a
// leading plus sign, as Twilio requires E.164 format.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if !phoneNumberRegex.MatchString(trimmed) {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	if !strings.HasPrefix(trimmed, "+") {
		trimmed = "+" + trimmed
	}
	return trimmed, nil
}

// SendText sends a plain text message.
func (s *TwilioService) SendText(ctx context.Context, to, instanceName, body string) error {
	select {
	case <-s.stopped:
		return ErrServiceStopped
	default:
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	return s.send(ctx, canonical, body)
}

// send delivers the message and reports the outcome on the receipts
// channel. Twilio acknowledges acceptance synchronously, so sent and
// failed statuses are known at call time.
func (s *TwilioService) send(ctx context.Context, canonical, body string) error {
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		s.EmitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.EmitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendList renders the list as a numbered text menu.
func (s *TwilioService) SendList(ctx context.Context, msg models.ListMessage) error {
	select {
	case <-s.stopped:
		return ErrServiceStopped
	default:
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	var b strings.Builder
	if msg.Description != "" {
		b.WriteString(msg.Description)
		b.WriteString("\n\n")
	}
	n := 1
	var rowIDs []string
	for _, sec := range msg.Sections {
		for _, row := range sec.Rows {
			fmt.Fprintf(&b, "%d. %s\n", n, row.Title)
			if row.Description != "" {
				fmt.Fprintf(&b, "   %s\n", row.Description)
			}
			rowIDs = append(rowIDs, row.RowID)
			n++
		}
	}

	s.menuMu.Lock()
	s.menus[strings.TrimPrefix(canonical, "+")] = rowIDs
	s.menuMu.Unlock()

	return s.send(ctx, canonical, b.String())
}

// Start is a no-op; inbound Twilio messages arrive through the webhook
// handler returned by WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Info("TwilioService started", "instance", s.instanceName)
	return nil
}

// WebhookHandler returns an HTTP handler for Twilio inbound message
// webhooks. Twilio posts form-encoded From and Body fields.
func (s *TwilioService) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			slog.Warn("TwilioService webhook failed to parse form", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		from := strings.TrimPrefix(strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:"), "+")
		body := r.PostFormValue("Body")
		if from == "" || body == "" {
			http.Error(w, "missing From or Body", http.StatusBadRequest)
			return
		}
		s.EmitResponse(models.Response{
			From:         from,
			Body:         s.resolveMenuReply(from, body),
			InstanceName: s.instanceName,
			Time:         time.Now().Unix(),
		})
		w.WriteHeader(http.StatusOK)
	}
}

// resolveMenuReply maps a numeric reply onto the corresponding row ID of
// the menu most recently sent to the contact. Non-numeric and out-of-range
// replies pass through unchanged.
func (s *TwilioService) resolveMenuReply(from, body string) string {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return body
	}
	s.menuMu.Lock()
	defer s.menuMu.Unlock()
	rowIDs := s.menus[from]
	if n < 1 || n > len(rowIDs) {
		return body
	}
	return rowIDs[n-1]
}

// EmitResponse places a response on the channel, dropping it if no
// consumer picks it up within DefaultChannelTimeout. The read lock keeps
// Stop from closing the channel between the stopped check and the send.
func (s *TwilioService) EmitResponse(resp models.Response) {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	select {
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.responses <- resp:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService dropping inbound response, channel full", "from", resp.From)
	}
}

// EmitReceipt places a delivery receipt on the channel. Receipts are best
// effort and dropped immediately when the channel is full.
func (s *TwilioService) EmitReceipt(r models.Receipt) {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	select {
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.receipts <- r:
	default:
		slog.Debug("TwilioService dropping receipt, channel full", "to", r.To)
	}
}

// Responses returns the inbound response channel.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// Receipts returns the delivery status channel.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Stop shuts the service down and closes the outbound channels. The write
// lock excludes in-flight emits while the channels close.
func (s *TwilioService) Stop() error {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		close(s.stopped)
		close(s.responses)
		close(s.receipts)
		s.stopMu.Unlock()
	})
	return nil
}
