package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	http       *resty.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Send posts the message with the title in bold. Discord answers 204 on
// success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"content": fmt.Sprintf("**%s**\n%s", title, message),
		}).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String(), 1024))
	}
	return nil
}

func (d *DiscordSender) Name() string {
	return "discord"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
