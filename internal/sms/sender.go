// Package sms delivers replies over the messaging channel.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender pushes a message to an identity outside of a request/response cycle,
// e.g. when a timer wakes a user up.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	Region     string
	Logger     *slog.Logger
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithRegion sets the region used to turn national identities back into E.164.
func WithRegion(region string) Option {
	return func(o *Opts) { o.Region = region }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Opts) { o.Logger = logger }
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	region string
	logger *slog.Logger
}

// NewTwilioSender creates a sender. Unset credentials fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{client: client, from: cfg.From, region: cfg.Region, logger: cfg.Logger}, nil
}

// Send delivers body to the identity, formatted as E.164.
func (s *TwilioSender) Send(ctx context.Context, to string, body string) error {
	number, err := E164(to, s.region)
	if err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(number)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		s.logger.Error("Twilio send failed", "to", number, "err", err)
		return fmt.Errorf("failed to send message to %s: %w", number, err)
	}
	s.logger.Debug("Twilio message sent", "to", number)
	return nil
}

// LogSender only logs messages. It stands in for Twilio in development.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to string, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Outbound message", "to", to, "body", body)
	return nil
}

// SentMessage is one message captured by a MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages for tests.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Send(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
