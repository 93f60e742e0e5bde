package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMailer(t *testing.T) *Mailer {
	t.Helper()
	m, err := NewMailer(Config{
		Host:            "smtp.example.com",
		Port:            587,
		Username:        "host@example.com",
		Password:        "secret",
		SenderEmail:     "host@example.com",
		SenderName:      "Max & Shuai",
		ReplyTo:         "replies@example.com",
		CaseFileBaseURL: "https://example.com/reports/",
		FeedbackBaseURL: "https://example.com/feedback.html",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	return m
}

func TestParseRecipients(t *testing.T) {
	raw := "brian benson\nBrian.Benson@Example.com\n\n  dana cole\ndana@example.com\n"
	recipients, err := ParseRecipients(raw)
	if err != nil {
		t.Fatalf("ParseRecipients: %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("recipients = %d, want 2", len(recipients))
	}
	if recipients[0].Name != "Brian Benson" {
		t.Errorf("name = %q, want title case", recipients[0].Name)
	}
	if recipients[0].Email != "brian.benson@example.com" {
		t.Errorf("email = %q, want lowercase", recipients[0].Email)
	}
	if got := recipients[1].FirstName(); got != "Dana" {
		t.Errorf("first name = %q", got)
	}
}

func TestParseRecipientsRejectsOddLines(t *testing.T) {
	if _, err := ParseRecipients("brian benson\nbrian@example.com\norphan line"); err == nil {
		t.Fatal("odd line count accepted")
	}
}

func TestParseRecipientsRejectsBadEmail(t *testing.T) {
	_, err := ParseRecipients("brian benson\nnot-an-email")
	if err == nil || !strings.Contains(err.Error(), "not-an-email") {
		t.Fatalf("error = %v, want the offending line", err)
	}
}

func TestParseRecipientsRejectsEmptyPaste(t *testing.T) {
	if _, err := ParseRecipients("  \n\n"); err == nil {
		t.Fatal("empty paste accepted")
	}
}

func TestCaseFileURL(t *testing.T) {
	m := testMailer(t)
	if got := m.CaseFileURL("20250614"); got != "https://example.com/reports/report20250614.html" {
		t.Errorf("url = %q", got)
	}
}

func TestSendFollowUpsPersonalizesEachMessage(t *testing.T) {
	m := testMailer(t)
	var sent []*mail.Msg
	m.send = func(ctx context.Context, msg *mail.Msg) error {
		sent = append(sent, msg)
		return nil
	}

	recipients := []Recipient{
		{Name: "Brian Benson", Email: "brian@example.com"},
		{Name: "Dana Cole", Email: "dana@example.com"},
	}
	report := m.SendFollowUps(context.Background(), "20250614", recipients, false)
	if report.Sent != 2 || len(report.Failures) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(sent) != 2 {
		t.Fatalf("messages sent = %d, want 2", len(sent))
	}

	var body strings.Builder
	if _, err := sent[0].WriteTo(&body); err != nil {
		t.Fatalf("render message: %v", err)
	}
	for _, want := range []string{"Hey Brian", "report20250614.html", "feedback.html?date=20250614"} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendFollowUpsIsolatesFailures(t *testing.T) {
	m := testMailer(t)
	m.send = func(ctx context.Context, msg *mail.Msg) error {
		if strings.Contains(msg.GetToString()[0], "brian") {
			return errors.New("mailbox full")
		}
		return nil
	}

	recipients := []Recipient{
		{Name: "Brian Benson", Email: "brian@example.com"},
		{Name: "Dana Cole", Email: "dana@example.com"},
	}
	report := m.SendFollowUps(context.Background(), "20250614", recipients, false)
	if report.Sent != 1 {
		t.Errorf("sent = %d, want 1", report.Sent)
	}
	if len(report.Failures) != 1 || report.Failures[0].Email != "brian@example.com" {
		t.Errorf("failures = %+v", report.Failures)
	}
}

func TestSendFollowUpsDryRunSkipsNetwork(t *testing.T) {
	m := testMailer(t)
	m.send = func(ctx context.Context, msg *mail.Msg) error {
		t.Fatal("dry run hit the network")
		return nil
	}

	report := m.SendFollowUps(context.Background(), "20250614",
		[]Recipient{{Name: "Brian Benson", Email: "brian@example.com"}}, true)
	if !report.DryRun || report.Sent != 1 {
		t.Errorf("report = %+v", report)
	}
}
