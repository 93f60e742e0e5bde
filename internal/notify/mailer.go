package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// Config holds the SMTP account and the URLs stamped into each email.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	SenderEmail string
	SenderName  string
	ReplyTo     string
	// CaseFileBaseURL prefixes the published report link
	// ({base}report{eventDate}.html).
	CaseFileBaseURL string
	// FeedbackBaseURL gets the event date appended as a query parameter.
	FeedbackBaseURL string
	// SendDelay spaces consecutive sends to stay under provider rate limits.
	SendDelay time.Duration
}

const followUpSubject = "Thank you for playing About Last Night"

var followUpHTML = template.Must(template.New("followup").Parse(`<!DOCTYPE html>
<html lang="en">
<body>
<p>Hey {{.FirstName}},</p>
<p>First of all, thank you. I hope last night gave you something worth remembering.</p>
<p>And speaking of memories, the detective's case file is ready:
<a href="{{.CaseFileURL}}">view your case file</a>.</p>
<p>If you have thoughts on the night, <a href="{{.FeedbackURL}}">we would love your feedback</a>.</p>
<p>Max &amp; Shuai</p>
</body>
</html>
`))

const followUpText = `Hey %s,

First of all, thank you. I hope last night gave you something worth remembering.

And speaking of memories, the detective's case file is ready:
%s

If you have thoughts on the night, we would love your feedback:
%s

Max & Shuai
`

// Mailer sends follow-up emails over SMTP.
type Mailer struct {
	cfg  Config
	log  *slog.Logger
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewMailer connects the follow-up sender to the configured SMTP account.
func NewMailer(cfg Config, log *slog.Logger) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	m := &Mailer{cfg: cfg, log: log}
	m.send = func(ctx context.Context, msg *mail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}
	return m, nil
}

// CaseFileURL returns the public link to the event's published case file.
func (m *Mailer) CaseFileURL(eventDate string) string {
	return fmt.Sprintf("%sreport%s.html", m.cfg.CaseFileBaseURL, eventDate)
}

func (m *Mailer) feedbackURL(eventDate string) string {
	return fmt.Sprintf("%s?date=%s", m.cfg.FeedbackBaseURL, eventDate)
}

// SendFollowUps delivers one personalized email per recipient. A recipient
// that cannot be reached is recorded in the report and the send moves on;
// dryRun builds and logs every message without touching the network.
func (m *Mailer) SendFollowUps(ctx context.Context, eventDate string, recipients []Recipient, dryRun bool) *Report {
	report := &Report{EventDate: eventDate, Requested: len(recipients), DryRun: dryRun}

	for i, rcpt := range recipients {
		msg, err := m.buildMessage(eventDate, rcpt)
		if err != nil {
			report.Failures = append(report.Failures, Failure{Email: rcpt.Email, Error: err.Error()})
			continue
		}
		if dryRun {
			m.log.Info("follow-up dry run", "event", eventDate, "to", rcpt.Email)
			report.Sent++
			continue
		}
		if err := m.send(ctx, msg); err != nil {
			m.log.Warn("follow-up send failed", "event", eventDate, "to", rcpt.Email, "error", err)
			report.Failures = append(report.Failures, Failure{Email: rcpt.Email, Error: err.Error()})
			continue
		}
		m.log.Info("follow-up sent", "event", eventDate, "to", rcpt.Email)
		report.Sent++

		if m.cfg.SendDelay > 0 && i < len(recipients)-1 {
			select {
			case <-time.After(m.cfg.SendDelay):
			case <-ctx.Done():
				report.Failures = append(report.Failures, Failure{Email: "", Error: ctx.Err().Error()})
				return report
			}
		}
	}
	return report
}

func (m *Mailer) buildMessage(eventDate string, rcpt Recipient) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.SenderName, m.cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("sender %q: %w", m.cfg.SenderEmail, err)
	}
	if err := msg.To(rcpt.Email); err != nil {
		return nil, fmt.Errorf("recipient %q: %w", rcpt.Email, err)
	}
	if m.cfg.ReplyTo != "" {
		if err := msg.ReplyTo(m.cfg.ReplyTo); err != nil {
			return nil, fmt.Errorf("reply-to %q: %w", m.cfg.ReplyTo, err)
		}
	}
	msg.Subject(followUpSubject)

	caseFile := m.CaseFileURL(eventDate)
	feedback := m.feedbackURL(eventDate)
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(followUpText, rcpt.FirstName(), caseFile, feedback))

	var buf bytes.Buffer
	err := followUpHTML.Execute(&buf, map[string]string{
		"FirstName":   rcpt.FirstName(),
		"CaseFileURL": caseFile,
		"FeedbackURL": feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	msg.AddAlternativeString(mail.TypeTextHTML, buf.String())
	return msg, nil
}
