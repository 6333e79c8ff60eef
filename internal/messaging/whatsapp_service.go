package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service on top of the Whatsmeow client.
type WhatsAppService struct {
	client       whatsapp.Sender
	instanceName string
	responses    chan models.Response
	receipts     chan models.Receipt
	stopMu       sync.RWMutex
	stopOnce     sync.Once
	stopped      chan struct{}
}

// WhatsAppOption configures a WhatsAppService.
type WhatsAppOption func(*WhatsAppService)

// WithInstanceName tags inbound responses with the given instance name.
func WithInstanceName(name string) WhatsAppOption {
	return func(s *WhatsAppService) { s.instanceName = name }
}

// NewWhatsAppService creates a messaging service backed by the given
// WhatsApp sender.
func NewWhatsAppService(client whatsapp.Sender, opts ...WhatsAppOption) *WhatsAppService {
	s := &WhatsAppService{
		client:       client,
		instanceName: "default",
		responses:    make(chan models.Response, DefaultChannelBufferSize),
		receipts:     make(chan models.Receipt, DefaultChannelBufferSize),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient validates a phone number and strips the
// leading plus sign, matching the JID user part WhatsApp expects.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if !phoneNumberRegex.MatchString(trimmed) {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	return strings.TrimPrefix(trimmed, "+"), nil
}

// SendText sends a plain text message.
func (s *WhatsAppService) SendText(ctx context.Context, to, instanceName, body string) error {
	select {
	case <-s.stopped:
		return ErrServiceStopped
	default:
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	return s.client.SendMessage(ctx, canonical, body)
}

// SendList sends an interactive single-select list.
func (s *WhatsAppService) SendList(ctx context.Context, msg models.ListMessage) error {
	select {
	case <-s.stopped:
		return ErrServiceStopped
	default:
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.To = canonical
	return s.client.SendListMessage(ctx, msg)
}

// Start registers the inbound event handler on the underlying client.
// When the sender is a mock (tests), Start is a no-op and responses are
// delivered via EmitResponse.
func (s *WhatsAppService) Start(ctx context.Context) error {
	client, ok := s.client.(*whatsapp.Client)
	if !ok {
		slog.Debug("WhatsAppService Start: no real client attached, skipping event handler registration")
		return nil
	}
	client.GetClient().AddEventHandler(func(evt interface{}) {
		switch e := evt.(type) {
		case *events.Message:
			s.handleInbound(e)
		case *events.Receipt:
			s.handleReceipt(e)
		}
	})
	slog.Info("WhatsAppService started", "instance", s.instanceName)
	return nil
}

// handleInbound extracts the reply text from an inbound event and forwards
// it to the responses channel. List replies carry the selected row ID so
// the engine can match options by ID.
func (s *WhatsAppService) handleInbound(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}

	var body string
	switch {
	case msg.Message.GetListResponseMessage() != nil:
		body = msg.Message.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case msg.Message.GetExtendedTextMessage() != nil:
		body = msg.Message.GetExtendedTextMessage().GetText()
	default:
		body = msg.Message.GetConversation()
	}
	if body == "" {
		return
	}

	s.EmitResponse(models.Response{
		From:         msg.Info.Sender.User,
		Body:         body,
		InstanceName: s.instanceName,
		Time:         msg.Info.Timestamp.Unix(),
	})
}

// handleReceipt translates WhatsApp delivery receipts onto the receipts
// channel. Only delivered and read receipts carry a delivery status.
func (s *WhatsAppService) handleReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.EmitReceipt(models.Receipt{
		To:     evt.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}

// EmitResponse places a response on the channel, dropping it if no
// consumer picks it up within DefaultChannelTimeout. The read lock keeps
// Stop from closing the channel between the stopped check and the send.
func (s *WhatsAppService) EmitResponse(resp models.Response) {
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
		slog.Warn("WhatsAppService dropping inbound response, channel full", "from", resp.From)
	}
}

// EmitReceipt places a delivery receipt on the channel. Receipts are best
// effort and dropped immediately when the channel is full.
func (s *WhatsAppService) EmitReceipt(r models.Receipt) {
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
		slog.Debug("WhatsAppService dropping receipt, channel full", "to", r.To)
	}
}

// Responses returns the inbound response channel.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// Receipts returns the delivery status channel.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Stop shuts the service down and closes the outbound channels. The write
// lock excludes in-flight emits while the channels close.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		close(s.stopped)
		close(s.responses)
		close(s.receipts)
		s.stopMu.Unlock()
	})
	return nil
}
