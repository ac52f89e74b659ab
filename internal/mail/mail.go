package mail

import (
	"context"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/example/sheet-scheduler/internal/config"
)

// Sender delivers mail over SMTP. It is constructed once from process
// configuration; nothing downstream reads globals.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(cfg config.SMTPConfig) *Sender {
	return &Sender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send delivers one message, optionally with an ICS attachment. An error
// means the message was not accepted by the SMTP server; callers must not
// record the send as done.
func (s *Sender) Send(ctx context.Context, to, subject, body string, ics []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	if len(ics) > 0 {
		m.Attach("event.ics", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(ics)
			return err
		}))
	}

	return s.dialer.DialAndSend(m)
}
