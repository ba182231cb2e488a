package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/tasks"
)

// Notifier delivers a task's final outcome to the operator. Fire-and-forget:
// delivery failures are the caller's to log and never change task status.
type Notifier interface {
	Notify(ctx context.Context, t tasks.Task) error
}

// LogNotifier is the fallback when email is not configured.
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n *LogNotifier) Notify(_ context.Context, t tasks.Task) error {
	n.Log.Infow("task finished",
		"task", t.ID,
		"slot", t.Slot.String(),
		"status", t.Status,
		"attempts", len(t.Attempts))
	return nil
}

// Mailer sends the outcome over SMTP (STARTTLS when the server offers it).
type Mailer struct {
	Host     string
	Port     int
	From     string
	Password string
	To       string
	Log      *zap.SugaredLogger
}

func (m *Mailer) Notify(_ context.Context, t tasks.Task) error {
	subject := fmt.Sprintf("court reservation %s: %s", t.Status, t.Slot.String())
	body := buildBody(t)

	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + m.To,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	var auth smtp.Auth
	if m.Password != "" {
		auth = smtp.PlainAuth("", m.From, m.Password, m.Host)
	}
	if err := smtp.SendMail(addr, auth, m.From, []string{m.To}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.Log.Infow("outcome mail sent", "task", t.ID, "status", t.Status, "to", m.To)
	return nil
}

func buildBody(t tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Slot:       %s\n", t.Slot.String())
	fmt.Fprintf(&b, "Fire time:  %s\n", t.FireTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Status:     %s\n", t.Status)
	fmt.Fprintf(&b, "\nAttempts (%d):\n", len(t.Attempts))
	for i, a := range t.Attempts {
		fmt.Fprintf(&b, "  %2d. %s  %s", i+1, a.At.Format("15:04:05.000"), a.Outcome)
		if a.Detail != "" {
			fmt.Fprintf(&b, "  (%s)", a.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}
