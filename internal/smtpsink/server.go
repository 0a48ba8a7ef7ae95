// Package smtpsink is a capture-only SMTP server. It accepts mail, keeps
// the most recent messages in memory, and never relays anything.
package smtpsink

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

const (
	defaultDomain      = "mailmcp-sink"
	DefaultMaxMessages = 500
)

type Config struct {
	Addr        string
	Username    string
	Password    string
	MaxMessages int
	// TLS enables STARTTLS when set.
	TLS *tls.Config
}

func (c Config) authEnabled() bool {
	return c.Username != "" && c.Password != ""
}

// Message is one captured delivery.
type Message struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	From          string    `json:"from"`
	To            []string  `json:"to"`
	ReplyTo       []string  `json:"reply_to,omitempty"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Size          int64     `json:"size"`
	Authenticated bool      `json:"authenticated"`
	ReceivedAt    time.Time `json:"received_at"`
}

type Server struct {
	smtp    *smtp.Server
	backend *backend
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	logger = logger.With("component", "smtpsink")
	backend := &backend{cfg: cfg, logger: logger}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.TLSConfig = cfg.TLS
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, backend: backend, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp sink listening", "addr", s.smtp.Addr, "auth", s.backend.cfg.authEnabled(), "starttls", s.smtp.TLSConfig != nil)
	return ignoreClosed(s.smtp.ListenAndServe())
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("smtp sink listening", "addr", l.Addr().String(), "auth", s.backend.cfg.authEnabled(), "starttls", s.smtp.TLSConfig != nil)
	return ignoreClosed(s.smtp.Serve(l))
}

func ignoreClosed(err error) error {
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

// Messages returns the captured messages, oldest first.
func (s *Server) Messages() []Message {
	return s.backend.snapshot()
}

// Reset drops every captured message.
func (s *Server) Reset() {
	s.backend.mu.Lock()
	s.backend.messages = nil
	s.backend.mu.Unlock()
}

type backend struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	messages []Message
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

func (b *backend) capture(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	if over := len(b.messages) - b.cfg.MaxMessages; over > 0 {
		b.messages = append([]Message(nil), b.messages[over:]...)
	}
}

func (b *backend) snapshot() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.cfg.authEnabled() {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.cfg.authEnabled() {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.cfg.Username && password == s.backend.cfg.Password {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.cfg.authEnabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.cfg.authEnabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	message, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err)
	}
	message.Authenticated = s.authenticated
	s.backend.capture(message)
	s.backend.logger.Info("message captured",
		"id", message.ID,
		"from", message.From,
		"to", message.To,
		"subject", message.Subject,
		"size", message.Size,
	)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseMessage fills a Message from the envelope and whatever of the
// headers and text body can be decoded. The envelope always wins for From
// and To.
func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (Message, error) {
	message := Message{
		ID:         uuid.NewString(),
		From:       normalizeEmail(envelopeFrom),
		To:         append([]string(nil), envelopeTo...),
		Size:       int64(len(raw)),
		ReceivedAt: time.Now(),
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return message, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		message.Subject = subject
	}
	if id, err := reader.Header.MessageID(); err == nil {
		message.MessageID = id
	}
	if message.From == "" {
		if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
			message.From = normalizeEmail(fromList[0].Address)
		}
	}
	if list, err := reader.Header.AddressList("Reply-To"); err == nil {
		for _, addr := range list {
			message.ReplyTo = append(message.ReplyTo, normalizeEmail(addr.Address))
		}
	}

	var body []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return message, err
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		if mediaType != "" && !strings.HasPrefix(mediaType, "text/plain") {
			continue
		}
		text, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		body = append(body, string(text))
	}
	message.Body = strings.Join(body, "\n")
	return message, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
