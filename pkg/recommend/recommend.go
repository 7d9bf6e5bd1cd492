// Package recommend asks a language model to pick the best hotel from a set
// of search results.
package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/tokenizer"
)

const (
	apiVersion = "2023-06-01"

	systemPrompt = "You are a hotel booking assistant for London. " +
		"Using only the hotel options listed by the user, recommend the best value choice " +
		"and explain briefly why. Prices are per night. Answer in plain text in under 120 words."

	// UnavailableText is returned when no recommendation could be generated.
	UnavailableText = "Recommendations are unavailable right now, please try again later."
)

// Config holds the recommendation provider settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	PromptBudget int
	Timeout      time.Duration
}

// Request is the input for one recommendation.
type Request struct {
	Area     string
	CheckIn  time.Time
	CheckOut time.Time
	Quotes   []model.PriceQuote
	Question string
}

// Recommendation is the generated advice.
type Recommendation struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Fallback     bool   `json:"fallback"`
}

// Client calls the Anthropic Messages API.
type Client struct {
	cfg     Config
	counter *tokenizer.Counter
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. A nil counter uses character estimation.
func New(cfg Config, counter *tokenizer.Counter, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = 2000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if counter == nil {
		counter, _ = tokenizer.New(tokenizer.EncodingEstimate)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		counter: counter,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Recommend generates advice for req. Provider failures never surface as
// errors; they degrade to a fallback text.
func (c *Client) Recommend(ctx context.Context, req Request) (*Recommendation, error) {
	if len(req.Quotes) == 0 {
		return nil, fmt.Errorf("%w: no hotel options to compare", model.ErrValidation)
	}
	if !c.Configured() {
		return c.fallback(req), nil
	}

	prompt := c.BuildPrompt(req)
	messages := []tokenizer.Message{{Role: "user", Content: prompt}}
	estimated := c.counter.CountMessages(systemPrompt, messages)

	rec, err := c.call(ctx, messages)
	if err != nil {
		c.logger.Warn("recommendation failed",
			"area", req.Area,
			"model", c.cfg.Model,
			"estimated_tokens", estimated,
			"error", err,
		)
		return c.fallback(req), nil
	}
	c.logger.Debug("recommendation generated",
		"area", req.Area,
		"model", rec.Model,
		"estimated_tokens", estimated,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
	)
	return rec, nil
}

// BuildPrompt renders the user message, trimmed to the prompt budget.
func (c *Client) BuildPrompt(req Request) string {
	var head strings.Builder
	fmt.Fprintf(&head, "Area: %s\n", req.Area)
	if !req.CheckIn.IsZero() && !req.CheckOut.IsZero() {
		fmt.Fprintf(&head, "Stay: %s to %s (%d nights)\n",
			model.FormatDate(req.CheckIn), model.FormatDate(req.CheckOut), model.Nights(req.CheckIn, req.CheckOut))
	}

	question := strings.TrimSpace(req.Question)
	if question != "" {
		question = "Traveller question: " + c.counter.Truncate(question, c.cfg.PromptBudget/4)
	}

	lines := make([]string, 0, len(req.Quotes))
	for i, q := range req.Quotes {
		lines = append(lines, fmt.Sprintf("%d. %s: %s %s per night", i+1, q.HotelName, q.NightlyPrice.StringFixed(2), q.Currency))
	}
	budget := c.cfg.PromptBudget - c.counter.Count(head.String()) - c.counter.Count(question) - 8
	lines = c.counter.Fit(lines, budget)

	var b strings.Builder
	b.WriteString(head.String())
	b.WriteString("Options:\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if question != "" {
		b.WriteString(question)
		b.WriteString("\n")
	}
	return b.String()
}

type messagesRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []tokenizer.Message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) call(ctx context.Context, messages []tokenizer.Message) (*Recommendation, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    systemPrompt,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: messages request failed", model.ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: messages endpoint returned status %d", model.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: messages endpoint returned status %d", model.ErrProvider, resp.StatusCode)
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed messages response", model.ErrProvider)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("%w: empty recommendation", model.ErrProvider)
	}

	return &Recommendation{
		Text:         strings.TrimSpace(text.String()),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// fallback points at the cheapest option when the model cannot be reached.
func (c *Client) fallback(req Request) *Recommendation {
	cheapest := req.Quotes[0]
	for _, q := range req.Quotes[1:] {
		if q.NightlyPrice.LessThan(cheapest.NightlyPrice) {
			cheapest = q
		}
	}
	text := fmt.Sprintf("%s The cheapest option is %s at %s %s per night.",
		UnavailableText, cheapest.HotelName, cheapest.NightlyPrice.StringFixed(2), cheapest.Currency)
	return &Recommendation{Text: text, Fallback: true}
}
