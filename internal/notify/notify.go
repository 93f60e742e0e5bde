// Package notify sends the post-publish follow-up email to the event's
// guests: a thank-you note with a link to the published case file and the
// feedback form.
package notify

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Recipient is one guest from the booking system.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FirstName returns the recipient's given name for the salutation.
func (r Recipient) FirstName() string {
	fields := strings.Fields(r.Name)
	if len(fields) == 0 {
		return r.Name
	}
	return fields[0]
}

// ParseRecipients parses the booking system's paste format: alternating
// lines of guest name and email address. Names are title-cased and emails
// lowercased, the way the booking export is usually typed.
func ParseRecipients(raw string) ([]Recipient, error) {
	// Casers are stateful and not safe for concurrent use.
	nameCaser := cases.Title(language.English)
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("notify: no recipients in booking data")
	}
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("notify: booking data has %d lines, want name/email pairs", len(lines))
	}

	recipients := make([]Recipient, 0, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		email := strings.ToLower(lines[i+1])
		if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
			return nil, fmt.Errorf("notify: line %d: %q is not an email address", i+2, lines[i+1])
		}
		recipients = append(recipients, Recipient{
			Name:  nameCaser.String(strings.ToLower(lines[i])),
			Email: email,
		})
	}
	return recipients, nil
}

// Notifier sends follow-up emails for a published case file. Implemented by
// Mailer; callers without SMTP configured hold a nil Notifier.
type Notifier interface {
	SendFollowUps(ctx context.Context, eventDate string, recipients []Recipient, dryRun bool) *Report
}

// Failure records one recipient the send could not reach.
type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report summarizes a follow-up send.
type Report struct {
	EventDate string    `json:"eventDate"`
	Requested int       `json:"requested"`
	Sent      int       `json:"sent"`
	DryRun    bool      `json:"dryRun,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
}
