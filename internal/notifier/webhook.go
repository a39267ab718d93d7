package notifier

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slack-go/slack"

	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
)

// WebhookSender is the outbound collaborator the manager dispatches
// rendered messages through. A call must honor the manager's
// inter-call pacing on its own time, not the sender's: the sender itself
// stays stateless and simply reports success or failure for one call.
type WebhookSender interface {
	Send(ctx context.Context, webhookURL, text string) bool
}

// SlackWebhookSender posts rendered messages as Slack-compatible incoming
// webhooks, wrapping each call with a 10s timeout and up to two
// client-level retries with exponential backoff — distinct from the
// task-level maxRetryCount, which spans ticks rather than one call.
type SlackWebhookSender struct {
	log     agentlog.Logger
	timeout time.Duration
}

// NewSlackWebhookSender builds a sender with the default 10s per-call
// timeout.
func NewSlackWebhookSender(log agentlog.Logger) *SlackWebhookSender {
	return &SlackWebhookSender{log: log, timeout: 10 * time.Second}
}

// Send posts text to webhookURL, retrying transport failures up to twice
// with exponential backoff before giving up and reporting false. A non-2xx
// response or any unretried error counts as a task-level failure.
func (s *SlackWebhookSender) Send(ctx context.Context, webhookURL, text string) bool {
	op := func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		msg := &slack.WebhookMessage{Text: text}
		if err := slack.PostWebhookContext(callCtx, webhookURL, msg); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3), // initial attempt + up to 2 retries
	)
	if err != nil {
		s.log.Warn("webhook send failed after retries", map[string]interface{}{
			"webhook_url_host": hostOnly(webhookURL),
			"error":            err.Error(),
		})
		return false
	}
	return true
}

// hostOnly keeps a webhook URL's path/token out of logs.
func hostOnly(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

var _ WebhookSender = (*SlackWebhookSender)(nil)

// FileWebhookSender writes each message to a file under dir instead of
// calling out to a real chat platform, for local/dev runs and tests.
type FileWebhookSender struct {
	dir string
	log agentlog.Logger
}

// NewFileWebhookSender builds a sender that appends every message to
// <dir>/<sanitized-webhook-name>.log.
func NewFileWebhookSender(dir string, log agentlog.Logger) *FileWebhookSender {
	return &FileWebhookSender{dir: dir, log: log}
}

func (f *FileWebhookSender) Send(_ context.Context, webhookURL, text string) bool {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		f.log.Error("failed to create webhook output directory", map[string]interface{}{"error": err.Error()})
		return false
	}

	path := filepath.Join(f.dir, sanitizeFilename(webhookURL)+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.log.Error("failed to open webhook output file", map[string]interface{}{"error": err.Error()})
		return false
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "--- %s ---\n%s\n\n", time.Now().UTC().Format(time.RFC3339), text); err != nil {
		f.log.Error("failed to write webhook message to file", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

func sanitizeFilename(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "webhook"
	}
	return string(out)
}

var _ WebhookSender = (*FileWebhookSender)(nil)
