package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// implicitTLSPort is the submissions port, where TLS starts before the
// SMTP greeting.
const implicitTLSPort = 465

// Transport hands a composed message to the delivery service.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, msg io.Reader) error
}

type dialMode int

const (
	dialPlain dialMode = iota
	dialStartTLS
	dialImplicitTLS
)

func (m dialMode) String() string {
	switch m {
	case dialStartTLS:
		return "starttls"
	case dialImplicitTLS:
		return "tls"
	default:
		return "plain"
	}
}

// SMTPTransport delivers over SMTP. Senders with credentials always get an
// encrypted connection before AUTH; senders without them talk plain SMTP.
type SMTPTransport struct {
	Addr        string
	Host        string
	HelloDomain string
	tls         *tls.Config
	mode        dialMode
	auth        sasl.Client
}

// NewSMTPTransport returns an authenticated transport when the sender has
// credentials and an unauthenticated one otherwise, both against the
// configured host and port.
func NewSMTPTransport(cfg Config, sender Sender) Transport {
	t := &SMTPTransport{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Host:        cfg.Host,
		HelloDomain: cfg.HelloDomain,
		mode:        dialPlain,
	}
	if sender.HasCredentials() {
		t.auth = sasl.NewPlainClient("", sender.Username, sender.Password)
		t.mode = dialStartTLS
		if cfg.Port == implicitTLSPort {
			t.mode = dialImplicitTLS
		}
		t.tls = &tls.Config{ServerName: cfg.Host}
		if cfg.TLS != nil {
			t.tls = cfg.TLS.Clone()
			if t.tls.ServerName == "" {
				t.tls.ServerName = cfg.Host
			}
		}
	}
	return t
}

func (t *SMTPTransport) dial() (*smtp.Client, error) {
	switch t.mode {
	case dialImplicitTLS:
		return smtp.DialTLS(t.Addr, t.tls)
	case dialStartTLS:
		return smtp.DialStartTLS(t.Addr, t.tls)
	default:
		return smtp.Dial(t.Addr)
	}
}

func (t *SMTPTransport) Deliver(ctx context.Context, from string, to []string, msg io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := t.dial()
	if err != nil {
		return fmt.Errorf("dial %s (%s): %w", t.Addr, t.mode, err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if t.HelloDomain != "" {
		if err := client.Hello(t.HelloDomain); err != nil {
			return fmt.Errorf("smtp hello: %w", err)
		}
	}
	if t.auth != nil {
		if err := client.Auth(t.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := io.Copy(w, msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}
