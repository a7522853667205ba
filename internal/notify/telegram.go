package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender delivers notifications over the Telegram Bot API. Account
// IDs double as Telegram chat IDs, so each account's events land in its
// own chat with the bot.
type TelegramSender struct {
	token  string
	client *http.Client
}

// NewTelegramSender creates a sender for the given bot token.
func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send calls sendMessage with the title bolded in Telegram markdown.
func (t *TelegramSender) Send(ctx context.Context, chatID, title, message string) error {
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	url := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	return postJSON(ctx, t.client, "telegram", url, payload)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
