// Package slack sends investigation outcome notifications to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/investigation"
)

const (
	maxReasonLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts investigation outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyOutcome is
// a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// NotifyOutcome posts a terminal investigation to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) NotifyOutcome(ctx context.Context, inv *investigation.Investigation) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(inv)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "posted outcome notification",
		"investigation_id", inv.ID, "status", string(inv.Status))
	return nil
}

func buildMessage(inv *investigation.Investigation) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(inv),
			{"type": "divider"},
			fieldsBlock(inv),
			{"type": "divider"},
			reasonBlock(inv),
			{"type": "divider"},
			contextBlock(inv),
		},
	}
}

func headerBlock(inv *investigation.Investigation) map[string]any {
	var title string
	switch inv.Status {
	case investigation.StatusComplete:
		title = "Investigation Complete"
	case investigation.StatusExpired:
		title = "Investigation Expired"
	default:
		title = "Investigation Failed"
	}
	text := fmt.Sprintf("%s %s: %s", statusEmoji(inv.Status), title, inv.AlertID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(inv *investigation.Investigation) map[string]any {
	var duration time.Duration
	if !inv.CompletedAt.IsZero() {
		duration = inv.CompletedAt.Sub(inv.CreatedAt)
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", inv.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %d", inv.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", inv.AlertID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Case:* %s", orDash(inv.CaseID)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tenant:* %s", inv.TenantID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", duration.Seconds()),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasonBlock(inv *investigation.Investigation) map[string]any {
	text := outcomeDetail(inv)
	if text == "" {
		text = "_No detail recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Outcome*\n\n%s", truncate(text, maxReasonLen)),
		},
	}
}

// outcomeDetail pulls the most useful terminal detail out of the open
// context document.
func outcomeDetail(inv *investigation.Investigation) string {
	for _, key := range []string{"failure_reason", "result_summary", "latest_feedback"} {
		if v, ok := inv.Context[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func contextBlock(inv *investigation.Investigation) map[string]any {
	ts := inv.CompletedAt
	if ts.IsZero() {
		ts = inv.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • investigation %s • %s", inv.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(status investigation.Status) string {
	switch status {
	case investigation.StatusComplete:
		return "\U0001f7e2" // green circle
	case investigation.StatusExpired:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f534" // red circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
