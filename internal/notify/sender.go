package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Sender delivers one rendered message. Implementations may block on
// external I/O; the service bounds every call with a timeout.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

// SMTPSender delivers messages over plain SMTP.
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender constructs a sender for the given host:port.
func NewSMTPSender(host string, port int, from string) *SMTPSender {
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
	}
}

// Send delivers the message. net/smtp has no context support, so the
// caller's timeout is enforced by the service wrapper around this call.
func (s *SMTPSender) Send(ctx context.Context, recipient string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return smtp.SendMail(s.addr, nil, s.from, []string{recipient}, []byte(b.String()))
}
