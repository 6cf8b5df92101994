// Package twiliowhatsapp sends WhatsApp messages from the firm's business number through the
// Twilio Programmable Messaging API.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const addressPrefix = "whatsapp:"

// ErrMissingCredentials is returned by NewClient when the account cannot be identified.
var ErrMissingCredentials = errors.New("twilio account SID and auth token are required")

// Sender delivers a text and returns the Twilio message SID.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts configures a Client. Empty fields are read from the environment.
type Opts struct {
	AccountSID     string
	AuthToken      string
	From           string
	StatusCallback string
}

// Option mutates Opts.
type Option func(*Opts)

func WithAccountSID(sid string) Option { return func(o *Opts) { o.AccountSID = sid } }

func WithAuthToken(token string) Option { return func(o *Opts) { o.AuthToken = token } }

// WithFrom sets the business number, with or without the "whatsapp:" prefix.
func WithFrom(from string) Option { return func(o *Opts) { o.From = from } }

// WithStatusCallback asks Twilio to post delivery updates for every message to url.
func WithStatusCallback(url string) Option { return func(o *Opts) { o.StatusCallback = url } }

// Client sends through one Twilio account and sender number.
type Client struct {
	api            messageCreator
	from           string
	statusCallback string
}

var _ Sender = (*Client)(nil)

// NewClient builds a Client. Unset options fall back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN,
// TWILIO_FROM_NUMBER and TWILIO_STATUS_CALLBACK_URL.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		AccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		From:           os.Getenv("TWILIO_FROM_NUMBER"),
		StatusCallback: os.Getenv("TWILIO_STATUS_CALLBACK_URL"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("twilio sender number is required")
	}
	slog.Debug("twiliowhatsapp.NewClient: configured", "from", address(cfg.From), "statusCallback", cfg.StatusCallback != "")

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: rest.Api, from: address(cfg.From), statusCallback: cfg.StatusCallback}, nil
}

// address renders a phone number as a Twilio WhatsApp address.
func address(number string) string {
	if strings.HasPrefix(number, addressPrefix) {
		return number
	}
	return addressPrefix + "+" + strings.TrimPrefix(number, "+")
}

// SendMessage posts one message. The Twilio SDK does not take a context, so cancellation is
// only honored before the request starts.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address(to))
	params.SetFrom(c.from)
	params.SetBody(body)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: twilio rejected message", "to", to, "error", err)
		return "", fmt.Errorf("twilio send to %s: %w", to, err)
	}
	var sid string
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Client.SendMessage: accepted", "to", to, "sid", sid)
	return sid, nil
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of calling Twilio. Setting Err makes every send fail.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(_ context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return fmt.Sprintf("SM%04d", len(m.sent)), nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
