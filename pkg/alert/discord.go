package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	discordGreen  = 0x2ECC71
	discordOrange = 0xFF6600
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *resty.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{client: newClient(), webhookURL: webhookURL}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	color := discordGreen
	if n.Degraded() {
		color = discordOrange
	}

	desc := n.Totals
	lines, more := topLines(n.Lines)
	if len(lines) > 0 {
		desc += "\n```\n" + strings.Join(lines, "\n") + "\n```"
	}
	if more > 0 {
		desc += fmt.Sprintf("+%d more sources", more)
	}

	embed := map[string]any{
		"title":       n.Title,
		"description": desc,
		"color":       color,
		"footer":      map[string]any{"text": "run " + n.RunID},
		"timestamp":   n.SentAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	return post(ctx, d.client.R(), d.webhookURL, body, "discord")
}
