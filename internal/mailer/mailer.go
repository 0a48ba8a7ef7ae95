// Package mailer composes outbound messages and hands them to an SMTP
// transport chosen per send from the resolved sender identity.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

// Sender is a configured identity usable as the From address.
type Sender struct {
	Email    string `json:"email"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// HasCredentials reports whether sends from this identity authenticate.
func (s Sender) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

type Config struct {
	Host        string
	Port        int
	HelloDomain string
	Senders     []Sender
	// TLS is the base client config for authenticated senders. Nil
	// verifies the server against the system roots.
	TLS *tls.Config
}

// Request is one outbound message before sender resolution.
type Request struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// Sent describes a delivered message. To holds the envelope addresses
// actually handed to the transport.
type Sent struct {
	MessageID string
	From      string
	To        []string
	Subject   string
	Body      string
	Date      time.Time
}

// TransportFunc builds the transport used for a single send.
type TransportFunc func(cfg Config, sender Sender) Transport

type Option func(*Mailer)

// WithTransport replaces the SMTP transport builder.
func WithTransport(fn TransportFunc) Option {
	return func(m *Mailer) {
		m.newTransport = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Mailer) {
		m.now = now
	}
}

type Mailer struct {
	mu           sync.RWMutex
	cfg          Config
	newTransport TransportFunc
	logger       *slog.Logger
	now          func() time.Time
}

func New(cfg Config, opts ...Option) *Mailer {
	m := &Mailer{
		cfg:          cfg,
		newTransport: NewSMTPTransport,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mailer")
	return m
}

// SetSenders swaps the configured sender identities. In-flight sends keep
// the identity they already resolved.
func (m *Mailer) SetSenders(senders []Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Senders = append([]Sender(nil), senders...)
	m.logger.Info("sender identities updated", "count", len(senders))
}

// Senders returns a copy of the configured identities.
func (m *Mailer) Senders() []Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sender(nil), m.cfg.Senders...)
}

func (m *Mailer) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg
	cfg.Senders = append([]Sender(nil), m.cfg.Senders...)
	return cfg
}

// ResolveSender picks the identity for from: the first sender when from is
// empty, otherwise an exact email match, then a local-part match.
func ResolveSender(senders []Sender, from string) (Sender, error) {
	if len(senders) == 0 {
		return Sender{}, apperr.InvalidArgument("no sender identities configured")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return senders[0], nil
	}
	for _, sender := range senders {
		if sender.Email == from {
			return sender, nil
		}
	}
	for _, sender := range senders {
		if localPart(sender.Email) == from {
			return sender, nil
		}
	}
	return Sender{}, apperr.InvalidArgument("sender %q is not configured", from)
}

// Send composes req and delivers it. Every address is validated before
// the transport is contacted.
func (m *Mailer) Send(ctx context.Context, req Request) (Sent, error) {
	cfg := m.config()
	sender, err := ResolveSender(cfg.Senders, req.From)
	if err != nil {
		return Sent{}, err
	}

	msg, sent, err := m.compose(sender, req)
	if err != nil {
		return Sent{}, err
	}

	transport := m.newTransport(cfg, sender)
	if err := transport.Deliver(ctx, sent.From, sent.To, bytes.NewReader(msg)); err != nil {
		m.logger.Warn("delivery failed", "from", sent.From, "to", sent.To, "error", err)
		return Sent{}, apperr.Delivery(err, "deliver message to %s", strings.Join(sent.To, ", "))
	}
	m.logger.Debug("message delivered",
		"message_id", sent.MessageID,
		"from", sent.From,
		"to", sent.To,
		"authenticated", sender.HasCredentials(),
	)
	return sent, nil
}

func (m *Mailer) compose(sender Sender, req Request) ([]byte, Sent, error) {
	from, err := parseAddress("sender", sender.Email)
	if err != nil {
		return nil, Sent{}, err
	}
	if len(req.To) == 0 {
		return nil, Sent{}, apperr.InvalidArgument("at least one recipient is required")
	}
	to := make([]*mail.Address, 0, len(req.To))
	envelope := make([]string, 0, len(req.To))
	for _, raw := range req.To {
		addr, err := parseAddress("recipient", raw)
		if err != nil {
			return nil, Sent{}, err
		}
		to = append(to, addr)
		envelope = append(envelope, addr.Address)
	}
	var replyTo *mail.Address
	if strings.TrimSpace(req.ReplyTo) != "" {
		if replyTo, err = parseAddress("reply-to", req.ReplyTo); err != nil {
			return nil, Sent{}, err
		}
	}

	sent := Sent{
		MessageID: uuid.NewString() + "@" + domainOf(from.Address),
		From:      from.Address,
		To:        envelope,
		Subject:   req.Subject,
		Body:      req.Body,
		Date:      m.now(),
	}

	var h mail.Header
	h.SetDate(sent.Date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if replyTo != nil {
		h.SetAddressList("Reply-To", []*mail.Address{replyTo})
	}
	h.SetSubject(req.Subject)
	h.SetMessageID(sent.MessageID)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, Sent{}, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, req.Body); err != nil {
		return nil, Sent{}, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, Sent{}, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), sent, nil
}

func parseAddress(role, raw string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperr.InvalidArgument("invalid %s address %q", role, raw)
	}
	return addr, nil
}

func localPart(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}

func domainOf(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at+1 < len(email) {
		return email[at+1:]
	}
	return "localhost"
}
