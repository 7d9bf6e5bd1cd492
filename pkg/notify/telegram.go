package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TelegramNotifier sends notifications to the user's Telegram chat.
// Telegram user ids double as private chat ids.
type TelegramNotifier struct {
	apiURL string
	client *http.Client
}

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// NewTelegramNotifier creates a Telegram Bot API notifier.
func NewTelegramNotifier(baseURL, botToken string) *TelegramNotifier {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	return &TelegramNotifier{
		apiURL: strings.TrimRight(baseURL, "/") + "/bot" + botToken + "/sendMessage",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	form := url.Values{
		"chat_id":                  {strconv.FormatInt(n.UserID, 10)},
		"text":                     {n.Text},
		"disable_web_page_preview": {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create telegram request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token, so the transport error is not wrapped.
		return fmt.Errorf("send telegram message: request failed")
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK || !body.OK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}
