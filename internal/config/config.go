// Package config loads mailmcp settings from an optional config file and
// MAILMCP_ environment variables, and watches the file for sender changes.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/spf13/viper"

	"github.io/infrasutra/mailmcp/internal/mailer"
	"github.io/infrasutra/mailmcp/internal/smtpsink"
)

const (
	DefaultPath   = "config.toml"
	EnvPrefix     = "MAILMCP"
	DefaultSender = "test@test.com"
)

type Config struct {
	HTTPAddr string       `mapstructure:"http_addr"`
	DBPath   string       `mapstructure:"db_path"`
	Log      LogConfig    `mapstructure:"log"`
	Mailer   MailerConfig `mapstructure:"mailer"`
	Sink     SinkConfig   `mapstructure:"sink"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File receives logs instead of the default stream when set.
	File string `mapstructure:"file"`
}

type SenderConfig struct {
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type MailerConfig struct {
	SMTPHost    string         `mapstructure:"smtp_host"`
	SMTPPort    int            `mapstructure:"smtp_port"`
	HelloDomain string         `mapstructure:"hello_domain"`
	Senders     []SenderConfig `mapstructure:"senders"`
	// TLSCAFile is a PEM bundle trusted in addition to the system roots
	// when authenticated senders verify the SMTP server.
	TLSCAFile string `mapstructure:"tls_ca_file"`

	// Single-sender keys, used only when Senders is empty.
	MailerEmail  string `mapstructure:"mailer_email"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

type SinkConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MaxMessages int    `mapstructure:"max_messages"`
	// TLSCert and TLSKey enable STARTTLS on the sink.
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "127.0.0.1:3000")
	v.SetDefault("db_path", "mailmcp.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("mailer.smtp_host", "localhost")
	v.SetDefault("mailer.smtp_port", 2525)
	v.SetDefault("mailer.hello_domain", "localhost")
	v.SetDefault("mailer.mailer_email", DefaultSender)
	v.SetDefault("mailer.smtp_username", "")
	v.SetDefault("mailer.smtp_password", "")
	v.SetDefault("mailer.tls_ca_file", "")
	v.SetDefault("sink.enabled", false)
	v.SetDefault("sink.addr", "127.0.0.1:2525")
	v.SetDefault("sink.username", "")
	v.SetDefault("sink.password", "")
	v.SetDefault("sink.max_messages", smtpsink.DefaultMaxMessages)
	v.SetDefault("sink.tls_cert", "")
	v.SetDefault("sink.tls_key", "")
}

// legacyKeys maps the older flat layout (sse_server_host plus a
// [mailer_config] table) onto current keys. Legacy values act as defaults,
// so current keys and environment variables still win.
var legacyKeys = map[string]string{
	"sse_server_host":             "http_addr",
	"mailer_config.smtp_host":     "mailer.smtp_host",
	"mailer_config.smtp_port":     "mailer.smtp_port",
	"mailer_config.mailer_email":  "mailer.mailer_email",
	"mailer_config.smtp_username": "mailer.smtp_username",
	"mailer_config.smtp_password": "mailer.smtp_password",
}

// Load reads path, if it exists, over the defaults and applies MAILMCP_
// environment overrides (MAILMCP_MAILER_SMTP_HOST for mailer.smtp_host).
// An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	for legacy, current := range legacyKeys {
		if v.InConfig(legacy) {
			v.SetDefault(current, v.Get(legacy))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	c.DBPath = strings.TrimSpace(c.DBPath)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	for i := range c.Mailer.Senders {
		c.Mailer.Senders[i].Email = strings.TrimSpace(c.Mailer.Senders[i].Email)
	}
	if len(c.Mailer.Senders) == 0 && strings.TrimSpace(c.Mailer.MailerEmail) != "" {
		c.Mailer.Senders = []SenderConfig{{
			Email:    strings.TrimSpace(c.Mailer.MailerEmail),
			Username: c.Mailer.SMTPUsername,
			Password: c.Mailer.SMTPPassword,
		}}
	}
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Mailer.SMTPHost == "" {
		return errors.New("mailer.smtp_host must not be empty")
	}
	if c.Mailer.SMTPPort < 1 || c.Mailer.SMTPPort > 65535 {
		return fmt.Errorf("mailer.smtp_port %d is out of range", c.Mailer.SMTPPort)
	}
	if len(c.Mailer.Senders) == 0 {
		return errors.New("at least one mailer sender is required")
	}
	for i, sender := range c.Mailer.Senders {
		if _, err := mail.ParseAddress(sender.Email); err != nil {
			return fmt.Errorf("mailer.senders[%d]: invalid email %q", i, sender.Email)
		}
	}
	if c.Sink.Enabled && c.Sink.Addr == "" {
		return errors.New("sink.addr must not be empty when the sink is enabled")
	}
	if c.Sink.MaxMessages < 0 {
		return fmt.Errorf("sink.max_messages %d must not be negative", c.Sink.MaxMessages)
	}
	if (c.Sink.TLSCert == "") != (c.Sink.TLSKey == "") {
		return errors.New("sink.tls_cert and sink.tls_key must be set together")
	}
	return nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: expected debug, info, warn or error", c.Log.Level)
	}
	return level, nil
}

// Senders converts the configured identities for the mailer. Credentials
// count only when both username and password are set.
func (c Config) Senders() []mailer.Sender {
	senders := make([]mailer.Sender, 0, len(c.Mailer.Senders))
	for _, sender := range c.Mailer.Senders {
		senders = append(senders, mailer.Sender{
			Email:    sender.Email,
			Username: sender.Username,
			Password: sender.Password,
		})
	}
	return senders
}

func (c Config) MailerConfig() (mailer.Config, error) {
	cfg := mailer.Config{
		Host:        c.Mailer.SMTPHost,
		Port:        c.Mailer.SMTPPort,
		HelloDomain: c.Mailer.HelloDomain,
		Senders:     c.Senders(),
	}
	if c.Mailer.TLSCAFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(c.Mailer.TLSCAFile)
	if err != nil {
		return mailer.Config{}, fmt.Errorf("read mailer.tls_ca_file: %w", err)
	}
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	if !roots.AppendCertsFromPEM(pem) {
		return mailer.Config{}, fmt.Errorf("mailer.tls_ca_file %s: no PEM certificates found", c.Mailer.TLSCAFile)
	}
	cfg.TLS = &tls.Config{RootCAs: roots}
	return cfg, nil
}

func (c Config) SinkConfig() (smtpsink.Config, error) {
	cfg := smtpsink.Config{
		Addr:        c.Sink.Addr,
		Username:    c.Sink.Username,
		Password:    c.Sink.Password,
		MaxMessages: c.Sink.MaxMessages,
	}
	if c.Sink.TLSCert == "" {
		return cfg, nil
	}
	cert, err := tls.LoadX509KeyPair(c.Sink.TLSCert, c.Sink.TLSKey)
	if err != nil {
		return smtpsink.Config{}, fmt.Errorf("load sink certificate: %w", err)
	}
	cfg.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	return cfg, nil
}
