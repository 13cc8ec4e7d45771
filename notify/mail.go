package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/warp/facility-engine/reservation"
)

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Domain is appended to user ids that are not already addresses.
	Domain string
}

// Sender is the part of *mail.Client the mailer needs.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends one plain-text email per notification.
type Mailer struct {
	cfg    MailConfig
	sender Sender
}

// NewMailer builds an SMTP client from cfg. Authentication is only enabled
// when a username is configured.
func NewMailer(cfg MailConfig) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return NewMailerWithSender(cfg, client), nil
}

// NewMailerWithSender uses sender instead of dialling SMTP.
func NewMailerWithSender(cfg MailConfig, sender Sender) *Mailer {
	return &Mailer{cfg: cfg, sender: sender}
}

func (m *Mailer) Notify(ctx context.Context, userID string, event reservation.Event, payload map[string]any) error {
	to := m.address(userID)
	if to == "" {
		return fmt.Errorf("no mail address for user %q", userID)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject(event, payload))
	msg.SetBodyString(mail.TypeTextPlain, body(event, payload))

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", event, to, err)
	}
	return nil
}

func (m *Mailer) address(userID string) string {
	if strings.Contains(userID, "@") {
		return userID
	}
	if m.cfg.Domain == "" || userID == "" {
		return ""
	}
	return userID + "@" + m.cfg.Domain
}

func subject(event reservation.Event, payload map[string]any) string {
	facility, _ := payload["facility_id"].(string)
	switch event {
	case reservation.EventCreated:
		return fmt.Sprintf("Reservation request received: %s", facility)
	case reservation.EventApproved:
		return fmt.Sprintf("Reservation approved: %s", facility)
	case reservation.EventRejected:
		return fmt.Sprintf("Reservation rejected: %s", facility)
	case reservation.EventCancelled:
		return fmt.Sprintf("Reservation cancelled: %s", facility)
	default:
		return fmt.Sprintf("Reservation update: %s", facility)
	}
}

func body(event reservation.Event, payload map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", event)
	for _, key := range []string{"reservation_id", "facility_id", "status", "purpose", "reason", "admin_note"} {
		if v, ok := payload[key]; ok && v != "" {
			fmt.Fprintf(&b, "%s: %v\n", key, v)
		}
	}
	for _, key := range []string{"start", "end"} {
		if t, ok := payload[key].(time.Time); ok {
			fmt.Fprintf(&b, "%s: %s\n", key, t.Format(time.RFC1123))
		}
	}
	return b.String()
}
