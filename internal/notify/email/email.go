// Package email sends report mails over SMTP with a single attachment.
package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

type Config struct {
	SMTPHost   string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type Sender struct {
	cfg Config
}

func NewSender(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, errors.New("email: smtp host is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("email: no recipients configured")
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = cfg.Username
	}
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	return &Sender{cfg: cfg}, nil
}

// Send delivers one message with an optional attachment. STARTTLS and
// auth are negotiated by net/smtp when the server offers them.
func (s *Sender) Send(subject, body string, attachment []byte, filename string) error {
	msg := buildMessage(s.cfg.From, s.cfg.Recipients, subject, body, attachment, filename)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, s.cfg.Recipients, msg); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

const boundary = "pricewatch-report-boundary"

func buildMessage(from string, to []string, subject, body string, attachment []byte, filename string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(attachment) == 0 {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(body)
		return b.Bytes()
	}

	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/csv; name=%q\r\n", filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

	enc := base64.StdEncoding.EncodeToString(attachment)
	// RFC 2045 line length limit.
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}
