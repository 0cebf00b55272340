package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{client: newClient(), webhookURL: webhookURL}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	icon := ":white_check_mark:"
	if n.Degraded() {
		icon = ":warning:"
	}

	// Build Slack Block Kit message.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": n.Title,
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s %s", icon, n.Totals),
			},
		},
	}

	lines, more := topLines(n.Lines)
	if len(lines) > 0 {
		text := "```" + strings.Join(lines, "\n") + "```"
		if more > 0 {
			text += fmt.Sprintf("\n_+%d more sources_", more)
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": text},
		})
	}
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": "run " + n.RunID},
		},
	})

	body, err := json.Marshal(map[string]any{"blocks": blocks})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return post(ctx, s.client.R(), s.webhookURL, body, "slack")
}
