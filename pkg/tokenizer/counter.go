// Package tokenizer estimates prompt sizes so recommendation requests stay
// within a token budget.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Supported encodings. EncodingEstimate skips BPE and counts 4 characters per token.
const (
	EncodingCl100k   = "cl100k_base"
	EncodingO200k    = "o200k_base"
	EncodingEstimate = "estimate"
)

// Message overhead for role and formatting, plus reply priming.
const (
	messageOverhead = 4
	replyPriming    = 2
)

// Message is a chat turn as sent to the recommendation model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Counter counts and trims text in tokens.
type Counter struct {
	name  string
	codec tokenizer.Codec
}

// New returns a counter for the named encoding. An empty name selects cl100k_base.
func New(encoding string) (*Counter, error) {
	var (
		codec tokenizer.Codec
		err   error
	)
	switch encoding {
	case "", EncodingCl100k:
		encoding = EncodingCl100k
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
	case EncodingO200k:
		codec, err = tokenizer.Get(tokenizer.O200kBase)
	case EncodingEstimate:
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Counter{name: encoding, codec: codec}, nil
}

// Name returns the encoding in use.
func (c *Counter) Name() string { return c.name }

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if c.codec == nil {
		return estimate(text)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

// CountMessages counts the tokens a chat request will use.
func (c *Counter) CountMessages(system string, messages []Message) int {
	total := replyPriming
	if system != "" {
		total += messageOverhead + c.Count(system)
	}
	for _, m := range messages {
		total += messageOverhead + c.Count(m.Role) + c.Count(m.Content)
	}
	return total
}

// Truncate returns the longest prefix of text that fits in max tokens.
func (c *Counter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if c.Count(text) <= max {
		return text
	}
	if c.codec == nil {
		return text[:max*4]
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return text[:min(len(text), max*4)]
	}
	out, err := c.codec.Decode(ids[:max])
	if err != nil {
		return text[:min(len(text), max*4)]
	}
	return out
}

// Fit keeps whole lines from the front of lines while their total stays within budget.
func (c *Counter) Fit(lines []string, budget int) []string {
	var (
		out  []string
		used int
	)
	for _, line := range lines {
		n := c.Count(line) + 1
		if used+n > budget {
			break
		}
		used += n
		out = append(out, line)
	}
	return out
}

// estimate counts 4 characters per token, rounding up.
func estimate(text string) int {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
