package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioSignatureHeader carries Twilio's HMAC signature of a webhook request.
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioService implements Service using the Twilio API. Inbound messages arrive through
// TwilioWebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	validator *twilioclient.RequestValidator
	publicURL string
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not match authToken.
// publicURL is the webhook URL as configured in Twilio; when empty it is rebuilt from the
// request, honoring X-Forwarded-Proto.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		slog.Warn("TwilioService: webhook signature validation disabled")
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+55..." addresses as well as plain numbers.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op; Twilio pushes inbound messages to the webhook.
func (s *TwilioService) Start(context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return "", err
	}
	sid, err := s.client.SendMessage(ctx, "+"+canonical, body)
	if err != nil {
		return "", err
	}
	s.safeEmitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return sid, nil
}

func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- receipt:
	default:
	}
}

// TwilioWebhookHandler parses an inbound Twilio webhook and emits it on Responses().
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !s.signatureValid(r) {
		slog.Warn("TwilioService.TwilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.TwilioWebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		ID:   r.FormValue("MessageSid"),
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	}
	if !s.safeEmitResponse(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) safeEmitResponse(msg models.InboundMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService.safeEmitResponse: service stopped, dropping message", "from", msg.From)
		return false
	}
	select {
	case s.responses <- msg:
		slog.Debug("TwilioService.safeEmitResponse: inbound message emitted", "from", msg.From, "sid", msg.ID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.safeEmitResponse: channel blocked, dropping message", "from", msg.From)
		return false
	}
}

// signatureValid checks X-Twilio-Signature against the form parameters. It passes every request
// when validation is not configured.
func (s *TwilioService) signatureValid(r *http.Request) bool {
	if s.validator == nil {
		return true
	}
	sig := r.Header.Get(TwilioSignatureHeader)
	if sig == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.webhookURL(r), params, sig)
}

func (s *TwilioService) webhookURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
