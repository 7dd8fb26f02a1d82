// Package notify mails the yard owner when a truck is uploaded.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
)

// ErrNoRecipient is returned when an upload has nobody to notify
var ErrNoRecipient = errors.New("no notification recipient")

// Attachment is an image attached to the notification
type Attachment struct {
	Filename string
	Data     []byte
}

// Upload describes one processed upload
type Upload struct {
	PlateNumber string
	ScrapClass  string
	FactoryID   string
	AnalysisID  string
	Recipients  []string
	Images      []Attachment
}

// Sender delivers composed messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer composes and sends upload notifications
type Mailer struct {
	sender    Sender
	from      string
	recipient string
	logger    *slog.Logger
}

// NewSMTPMailer builds a mailer that sends through the configured SMTP relay
// with mandatory STARTTLS
func NewSMTPMailer(cfg *config.MailConfig, log *slog.Logger) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return NewMailer(client, from, cfg.Recipient, log), nil
}

// NewMailer creates a mailer over an arbitrary sender. recipient is always
// copied on every notification when set.
func NewMailer(sender Sender, from, recipient string, log *slog.Logger) *Mailer {
	return &Mailer{sender: sender, from: from, recipient: recipient, logger: logger.OrDefault(log)}
}

// Notify sends the upload notification
func (m *Mailer) Notify(ctx context.Context, u Upload) error {
	msg, err := m.Compose(u)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send notification: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	m.logger.Info("Upload notification sent",
		slog.String("plate_number", u.PlateNumber),
		slog.String("analysis_id", u.AnalysisID),
		slog.String("correlation_id", logger.GetCorrelationID(ctx)),
	)
	return nil
}

// Compose builds the message for u
func (m *Mailer) Compose(u Upload) (*mail.Msg, error) {
	recipients := dedupe(append([]string{m.recipient}, u.Recipients...))
	if len(recipients) == 0 {
		return nil, ErrNoRecipient
	}

	plate := u.PlateNumber
	if plate == "" {
		plate = "Unknown"
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.from, err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject("New Scrap Upload - Truck: " + plate)
	msg.SetBodyString(mail.TypeTextPlain, body(u, plate))

	for _, img := range u.Images {
		if len(img.Data) == 0 {
			continue
		}
		contentType := mail.ContentType(http.DetectContentType(img.Data))
		if err := msg.AttachReader(img.Filename, bytes.NewReader(img.Data), mail.WithFileContentType(contentType)); err != nil {
			return nil, fmt.Errorf("attach %s: %w", img.Filename, err)
		}
	}
	return msg, nil
}

func body(u Upload, plate string) string {
	var b strings.Builder
	b.WriteString("Hi,\n\nA new scrap upload has been made from the yard system.\n\n")
	fmt.Fprintf(&b, "Truck Plate: %s\n", plate)
	if u.ScrapClass != "" {
		fmt.Fprintf(&b, "Scrap Type: %s\n", u.ScrapClass)
	}
	if u.FactoryID != "" {
		fmt.Fprintf(&b, "Factory: %s\n", u.FactoryID)
	}
	if u.AnalysisID != "" {
		fmt.Fprintf(&b, "Analysis: %s\n", u.AnalysisID)
	}
	b.WriteString("\nRegards,\nSteel Scrap System\n")
	return b.String()
}

func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
