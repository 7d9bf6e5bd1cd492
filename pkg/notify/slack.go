package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// SlackNotifier posts an operator copy of notifications to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	color := "#36a64f" // green
	title := fmt.Sprintf("Hotel Price Guardian: price drop in %s", areaTitle(n.Area))
	fields := []slackField{
		{Title: "User", Value: fmt.Sprintf("%d", n.UserID), Short: true},
		{Title: "Alert", Value: n.AlertID, Short: true},
		{Title: "Dates", Value: model.FormatDate(n.CheckIn) + " to " + model.FormatDate(n.CheckOut), Short: true},
		{Title: "Maximum", Value: money(n.MaxPrice, n.Currency), Short: true},
	}

	switch n.Kind {
	case KindPriceDrop:
		fields = append(fields,
			slackField{Title: "Price", Value: money(n.Price, n.Currency), Short: true},
			slackField{Title: "Source", Value: string(n.Source), Short: true},
		)
		if n.Source == model.SourceMock {
			color = "#ff9900" // orange
		}
	case KindDeactivated:
		color = "#cc0000" // dark red
		title = fmt.Sprintf("Hotel Price Guardian: alert deactivated (%s)", n.Reason)
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  title,
				Text:   n.Text,
				Fields: fields,
				Footer: "Hotel Price Guardian",
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
