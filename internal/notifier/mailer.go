// ABOUTME: Mail type, Mailer interface and the logging mailer used when no SMTP relay exists
// ABOUTME: Mail bodies are written in Markdown and rendered to HTML with goldmark

package notifier

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Mail is one outbound message. HTML is rendered from Text.
type Mail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers mail.
type Mailer interface {
	Send(ctx context.Context, m *Mail) error
}

// LogMailer writes each mail to the log instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. Pass nil logger for default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger.With("component", "mailer")}
}

func (l *LogMailer) Send(_ context.Context, m *Mail) error {
	l.logger.Info("mail",
		"to", m.To,
		"subject", m.Subject,
		"html_bytes", len(m.HTML),
	)
	l.logger.Debug("mail body", "subject", m.Subject, "text", m.Text)
	return nil
}

// newMail renders markdown into a Mail addressed to to.
func newMail(to []string, subject, body string) (*Mail, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return nil, fmt.Errorf("rendering mail body: %w", err)
	}
	return &Mail{To: to, Subject: subject, Text: body, HTML: buf.String()}, nil
}

// Compile-time check that LogMailer implements Mailer
var _ Mailer = (*LogMailer)(nil)
