// Package messaging defines the transport abstraction between the flow
// engine and the concrete WhatsApp gateways.
//
// A Service validates recipients, sends outbound text and list messages,
// and surfaces inbound replies on a channel the engine consumes.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Constants for messaging service configuration.
const (
	// DefaultChannelBufferSize is the buffer size for the inbound response channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound event waits for a
	// slow consumer before being dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when an operation is attempted on a
// stopped messaging service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches E.164-style phone numbers with an optional
// leading plus sign.
var phoneNumberRegex = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// Service sends outbound messages and delivers inbound responses.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns the canonical form used on the wire.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to the recipient.
	SendText(ctx context.Context, to, instanceName, body string) error

	// SendList sends an interactive single-select list. Gateways without
	// native list support degrade to numbered text.
	SendList(ctx context.Context, msg models.ListMessage) error

	// Start begins listening for inbound messages.
	Start(ctx context.Context) error

	// Stop shuts the service down and closes the response channel.
	Stop() error

	// Responses returns the channel of inbound user replies.
	Responses() <-chan models.Response
}
