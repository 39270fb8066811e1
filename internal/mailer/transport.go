// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mailer renders simulation emails and delivers the email queue.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"

	"github.com/ManuGH/lure/internal/config"
	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/model"
)

// Attachment is a file carried by a Message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outbound email.
type Message struct {
	FromName    string
	From        string
	ReplyTo     string
	To          []string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	Attachments []Attachment
}

// Sender delivers a message and returns its Message-ID.
type Sender interface {
	Send(ctx context.Context, m Message) (string, error)
}

// SMTPSettings describe one SMTP server.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
	From     string
	ReplyTo  string
}

// SettingsFromConfig converts the global smtp block.
func SettingsFromConfig(c config.SMTPConfig) SMTPSettings {
	return SMTPSettings{
		Host: c.Host, Port: c.Port, Username: c.Username, Password: c.Password,
		UseTLS: c.UseTLS, UseSSL: c.UseSSL, From: c.From,
	}
}

// SettingsFromModel converts an organization configuration whose password
// has already been opened.
func SettingsFromModel(c model.SMTPConfig, password string) SMTPSettings {
	return SMTPSettings{
		Host: c.Host, Port: c.Port, Username: c.Username, Password: password,
		UseTLS: c.UseTLS, UseSSL: c.UseSSL, From: c.FromEmail, ReplyTo: c.ReplyToEmail,
	}
}

// SMTPTransport sends through an SMTP server with go-mail.
type SMTPTransport struct {
	settings SMTPSettings
	domain   string
}

// NewSMTPTransport returns a transport for s.
func NewSMTPTransport(s SMTPSettings) *SMTPTransport {
	domain := "lure.local"
	if _, d, ok := strings.Cut(s.From, "@"); ok && d != "" {
		domain = d
	}
	return &SMTPTransport{settings: s, domain: domain}
}

func (t *SMTPTransport) client() (*gomail.Client, error) {
	opts := []gomail.Option{gomail.WithPort(t.settings.Port)}
	switch {
	case t.settings.UseSSL:
		opts = append(opts, gomail.WithSSL())
	case t.settings.UseTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if t.settings.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(t.settings.Username),
			gomail.WithPassword(t.settings.Password),
		)
	}
	return gomail.NewClient(t.settings.Host, opts...)
}

// Send implements Sender.
func (t *SMTPTransport) Send(ctx context.Context, m Message) (string, error) {
	msg, id, err := buildMessage(m, t.settings, t.domain)
	if err != nil {
		return "", err
	}
	c, err := t.client()
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

func buildMessage(m Message, s SMTPSettings, domain string) (*gomail.Msg, string, error) {
	from := m.From
	if from == "" {
		from = s.From
	}
	if from == "" {
		return nil, "", errors.New("mailer: no sender address")
	}
	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.FromName, from); err != nil {
		return nil, "", fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, "", fmt.Errorf("to: %w", err)
	}
	replyTo := m.ReplyTo
	if replyTo == "" {
		replyTo = s.ReplyTo
	}
	if replyTo != "" {
		if err := msg.ReplyTo(replyTo); err != nil {
			return nil, "", fmt.Errorf("reply-to: %w", err)
		}
	}
	msg.Subject(m.Subject)
	for k, v := range m.Headers {
		msg.SetGenHeader(gomail.Header(k), v)
	}
	switch {
	case m.Text != "" && m.HTML != "":
		msg.SetBodyString(gomail.TypeTextPlain, m.Text)
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	case m.HTML != "":
		msg.SetBodyString(gomail.TypeTextHTML, m.HTML)
	default:
		msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	}
	for _, a := range m.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Data),
			gomail.WithFileContentType(gomail.ContentType(ct))); err != nil {
			return nil, "", fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	id := uuid.NewString() + "@" + domain
	msg.SetMessageIDWithValue(id)
	return msg, "<" + id + ">", nil
}

// LogTransport logs messages instead of sending them and keeps the most
// recent ones in memory.
type LogTransport struct {
	logger zerolog.Logger
	keep   int

	mu   sync.Mutex
	sent []Message
}

// NewLogTransport returns a LogTransport remembering up to keep messages.
func NewLogTransport(keep int) *LogTransport {
	return &LogTransport{logger: log.WithComponent("mailer"), keep: keep}
}

// Send implements Sender.
func (t *LogTransport) Send(_ context.Context, m Message) (string, error) {
	if len(m.To) == 0 {
		return "", errors.New("mailer: no recipients")
	}
	id := "<" + uuid.NewString() + "@lure.local>"
	t.logger.Info().
		Str(log.FieldEvent, "mail.logged").
		Strs("to", m.To).
		Str("subject", m.Subject).
		Int("attachments", len(m.Attachments)).
		Str("message_id", id).
		Msg("email not sent (log transport)")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, m)
	if t.keep > 0 && len(t.sent) > t.keep {
		t.sent = t.sent[len(t.sent)-t.keep:]
	}
	return id, nil
}

// Messages returns a copy of the remembered messages.
func (t *LogTransport) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}

// NewFromConfig returns the global fallback transport.
func NewFromConfig(c config.SMTPConfig) Sender {
	if c.Transport == config.TransportSMTP {
		return NewSMTPTransport(SettingsFromConfig(c))
	}
	return NewLogTransport(100)
}
