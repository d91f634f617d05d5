package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mail "github.com/xhit/go-simple-mail/v2"
)

// SMTPConfig configures the SMTP transport. Port 465 uses implicit TLS, anything else STARTTLS
// unless Encryption says otherwise.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string // "starttls", "ssltls" or "none"
	SkipVerify bool
	Timeout    time.Duration
}

// SMTPTransport sends through an SMTP relay, one connection per message.
type SMTPTransport struct {
	server *mail.SMTPServer
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	server := mail.NewSMTPClient()
	server.Host = cfg.Host
	server.Port = cfg.Port
	server.Username = cfg.Username
	server.Password = cfg.Password
	if cfg.Username == "" {
		server.Authentication = mail.AuthNone
	}
	switch {
	case cfg.Encryption == "none":
		server.Encryption = mail.EncryptionNone
	case cfg.Encryption == "ssltls" || (cfg.Encryption == "" && cfg.Port == 465):
		server.Encryption = mail.EncryptionSSLTLS
	default:
		server.Encryption = mail.EncryptionSTARTTLS
	}
	server.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.SkipVerify}
	server.ConnectTimeout = cfg.Timeout
	server.SendTimeout = cfg.Timeout
	server.KeepAlive = false

	return &SMTPTransport{server: server}, nil
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Verify opens and closes one connection to check the relay and credentials.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	return client.Close()
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	email := mail.NewMSG()
	email.SetFrom(msg.From).AddTo(msg.To).SetSubject(msg.Subject)
	email.SetBody(mail.TextHTML, msg.HTML)
	if email.Error != nil {
		return fmt.Errorf("build message: %w", email.Error)
	}

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return email.Send(client)
}

func (t *SMTPTransport) connect(ctx context.Context) (*mail.SMTPClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := t.server.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", t.server.Host, t.server.Port, err)
	}
	return client, nil
}
