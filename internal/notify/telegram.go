package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTelegramURL is the Telegram Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	http   *resty.Client
}

// NewTelegramSender creates a TelegramSender. An empty baseURL uses
// DefaultTelegramURL.
func NewTelegramSender(baseURL, token, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Send posts title in bold followed by message using sendMessage.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", title, message),
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String(), 1024))
	}
	return nil
}

func (t *TelegramSender) Name() string {
	return "telegram"
}
