// Package messaging connects messaging transports to the intake orchestrator.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/phone"
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// MinRecipientDigits is the shortest phone number accepted as a recipient.
const MinRecipientDigits = 10

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and inbound message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number and returns its digits,
	// country code first.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient and returns the transport message id.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound messages.
	Responses() <-chan models.InboundMessage
}

// canonicalizeRecipient formats recipient to E.164 and returns the digits.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := phone.Digits(phone.NormalizeE164(recipient))
	if len(digits) < MinRecipientDigits {
		return "", fmt.Errorf("invalid phone number %q: at least %d digits required", recipient, MinRecipientDigits)
	}
	return digits, nil
}
