package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Oracle is a semantic judge consulted by the soft channel. Implementations
// must be safe for concurrent use.
type Oracle interface {
	Judge(ctx context.Context, prompt string) (string, error)
}

// OpenAIOracle judges goal satisfaction with a chat completion call.
type OpenAIOracle struct {
	Client    *openai.Client
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func NewOpenAIOracle(apiKey, model string) *OpenAIOracle {
	return &OpenAIOracle{
		Client:    openai.NewClient(apiKey),
		Model:     model,
		MaxTokens: 64,
		Timeout:   30 * time.Second,
	}
}

func (o *OpenAIOracle) Judge(ctx context.Context, prompt string) (string, error) {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.Model,
		MaxTokens: o.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("oracle completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

// KeywordOracle is a deterministic fallback used when no model is
// configured: it scores by goal-keyword overlap against the page text.
type KeywordOracle struct{}

func (KeywordOracle) Judge(ctx context.Context, prompt string) (string, error) {
	goal := sectionAfter(prompt, "Goal:")
	text := sectionAfter(prompt, "Page text:")
	words := strings.Fields(strings.ToLower(goal))
	if len(words) == 0 {
		return "0", nil
	}
	lower := strings.ToLower(text)
	hit := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hit++
		}
	}
	return strconv.Itoa(hit * 100 / len(words)), nil
}

func sectionAfter(s, marker string) string {
	i := strings.Index(s, marker)
	if i < 0 {
		return ""
	}
	rest := s[i+len(marker):]
	if j := strings.Index(rest, "\n\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

var firstIntRe = regexp.MustCompile(`-?\d+`)

// parseJudgment maps an oracle response to a confidence fraction in [0, 1].
// The first integer in the response wins, clamped to [0, 100]. Responses
// with no integer fall back to a yes/no reading.
func parseJudgment(response string) float64 {
	if m := firstIntRe.FindString(response); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			if n < 0 {
				n = 0
			}
			if n > 100 {
				n = 100
			}
			return float64(n) / 100
		}
	}
	lower := strings.ToLower(response)
	if strings.Contains(lower, "yes") {
		return 0.8
	}
	if strings.Contains(lower, "no") {
		return 0.2
	}
	return 0
}
