package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/pkg/logger"
)

const smtpDialTimeout = 10 * time.Second

// mailTransport hands a rendered message to an SMTP server.
type mailTransport func(ctx context.Context, cfg *config.EmailConfig, from string, to []string, msg []byte) error

type EmailService struct {
	cfg       *config.EmailConfig
	transport mailTransport
	now       func() time.Time
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg, transport: smtpTransport, now: time.Now}
}

// Enabled reports whether SMTP delivery is configured.
func (s *EmailService) Enabled() bool {
	return s.cfg != nil && s.cfg.Enabled && s.cfg.Host != ""
}

// Send delivers an HTML email. It is a no-op when SMTP is not configured.
func (s *EmailService) Send(ctx context.Context, to []string, subject, body string) error {
	if !s.Enabled() || len(to) == 0 {
		return nil
	}
	from := s.sender()
	msg := buildMessage(from, to, subject, body, s.now())
	if err := s.transport(ctx, s.cfg, from, to, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	logger.Debug().Strs("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func (s *EmailService) sender() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.Username
}

// BuildEffectBody renders the plain HTML body for an effect.
func BuildEffectBody(e *Effect) string {
	var sb strings.Builder
	p := func(key string) string { return html.EscapeString(e.Payload[key]) }

	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	switch e.Kind {
	case EffectInvitationEmail:
		sb.WriteString(fmt.Sprintf("<h2>Join %s</h2>", p("project_name")))
		sb.WriteString(fmt.Sprintf("<p>%s invited you to collaborate on <b>%s</b>.</p>", p("inviter_name"), p("project_name")))
		sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Accept invitation</a></p>", p("accept_url")))
		sb.WriteString(fmt.Sprintf("<p style=\"color: #888; font-size: 12px;\">This invitation expires on %s.</p>", p("expires_at")))
	case EffectInvitationAccepted:
		sb.WriteString(fmt.Sprintf("<h2>%s joined %s</h2>", p("member_email"), p("project_name")))
		sb.WriteString("<p>Your invitation was accepted.</p>")
	case EffectLowBalance:
		sb.WriteString("<h2>Your credit balance is running low</h2>")
		sb.WriteString(fmt.Sprintf("<p>You have <b>%s</b> credits left.</p>", p("balance")))
	case EffectReferralReward:
		sb.WriteString("<h2>You earned a referral bonus</h2>")
		sb.WriteString(fmt.Sprintf("<p>%s made their first purchase. We added <b>%s</b> credits to your account.</p>",
			p("purchaser_name"), p("amount")))
	default:
		sb.WriteString(fmt.Sprintf("<p>%s</p>", html.EscapeString(e.Subject)))
	}
	sb.WriteString("</body></html>")

	return sb.String()
}

// buildMessage renders RFC 5322 headers followed by the HTML body. The
// subject is Q-encoded so non-ASCII project names survive.
func buildMessage(from string, to []string, subject, body string, now time.Time) []byte {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.TrimSuffix(from[at+1:], ">")
	}

	var b strings.Builder
	writeHeader := func(k, v string) { b.WriteString(k + ": " + v + "\r\n") }
	writeHeader("From", from)
	writeHeader("To", strings.Join(to, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// smtpTransport speaks implicit TLS when UseTLS is set and otherwise lets
// the server offer STARTTLS.
func smtpTransport(ctx context.Context, cfg *config.EmailConfig, from string, to []string, msg []byte) error {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(port))

	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	if cfg.UseTLS {
		conn = tls.Client(conn, tlsCfg)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if !cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return err
			}
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
