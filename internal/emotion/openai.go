package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const systemPrompt = `You classify the emotion of a line a virtual character is about to say.
Answer with a single JSON object {"label": <one of neutral, happy, sad, excited, surprised, angry, thinking>, "intensity": <number between 0 and 1>} and nothing else.`

// OpenAIConfig represents a openAIConfig.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIAnalyzer implements ModelAnalyzer with an OpenAI compatible chat
// completion endpoint.
type OpenAIAnalyzer struct {
	client oai.Client
	model  string
}

// NewOpenAIAnalyzer executes the newOpenAIAnalyzer function.
func NewOpenAIAnalyzer(cfg OpenAIConfig) *OpenAIAnalyzer {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(1),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	return &OpenAIAnalyzer{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}
}

// Analyze executes the analyze method.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("emotion model: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("emotion model: empty choices in response")
	}
	return parseModelAnswer(resp.Choices[0].Message.Content)
}

func parseModelAnswer(content string) (Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("emotion model: no json object in %q", content)
	}
	var answer struct {
		Label     string  `json:"label"`
		Intensity float64 `json:"intensity"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &answer); err != nil {
		return Result{}, fmt.Errorf("emotion model: decode answer: %w", err)
	}
	label, ok := ParseLabel(answer.Label)
	if !ok {
		return Result{}, fmt.Errorf("emotion model: unknown label %q", answer.Label)
	}
	return Result{Label: label, Intensity: clamp01(answer.Intensity), Source: SourceModel}, nil
}
