package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

const (
	// DefaultChannelBufferSize is the buffer size of the receipt and inbound channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the event is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // nil for mocks; needed for event handling
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the recipient digits, country code first.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start subscribes to whatsmeow events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a text and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonical, body)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonical)
		return "", err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return id, nil
}

// Connected reports the live client's link state. Mock-backed services are always connected.
func (s *WhatsAppService) Connected() bool {
	if s.waClient == nil {
		return true
	}
	return s.waClient.Connected()
}

func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// handleIncomingMessage forwards direct text messages from contacts.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	s.emitInbound(models.InboundMessage{
		ID:   evt.Info.ID,
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{To: evt.MessageSource.Chat.User, Status: status, Time: evt.Timestamp.Unix()})
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *WhatsAppService) emitInbound(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.responses <- msg:
		slog.Debug("WhatsAppService.emitInbound: message forwarded", "from", msg.From, "id", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emitInbound: channel blocked, dropping message", "from", msg.From, "id", msg.ID)
	}
}

func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		// Nobody drains receipts in the intake service; drop when full.
	}
}
