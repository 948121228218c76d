// Package llm provides the LLM capabilities used by the pipeline, backed by
// langchaingo. The analyzer and parser stages consume these through small
// interfaces so tests can substitute deterministic stand-ins.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/intake-go/internal/config"
	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// FunctionSchema describes the single callable function handed to the
// structured-extraction capability.
type FunctionSchema struct {
	Name        string
	Description string
	Parameters  any // JSON-schema shaped; marshalled as-is
}

// Model wraps a langchaingo LLM with the two capability operations.
type Model struct {
	llm         llms.Model
	modelName   string
	maxTokens   int
	analyzeTemp float64
	extractTemp float64
	stats       *metrics.Collector
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:         model,
		modelName:   cfg.LLMModel,
		maxTokens:   cfg.MaxTokens,
		analyzeTemp: cfg.AnalyzeTemperature,
		extractTemp: cfg.ExtractTemperature,
	}, nil
}

// GenerateWithSystem generates free text with a system prompt. Used by the
// analyzer stage.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(m.analyzeTemp),
		llms.WithMaxTokens(m.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	m.record(metrics.OpAnalyze, start, response)

	slog.Debug("llm generate complete", "model", m.modelName, "duration_ms", time.Since(start).Milliseconds())
	return response.Choices[0].Content, nil
}

// ExtractStructured invokes the model with fn as the only callable function
// and a lower temperature than free-text analysis. Returns the function-call
// arguments when the model calls it, or ok=false when the model declines.
func (m *Model) ExtractStructured(ctx context.Context, systemPrompt, userPrompt string, fn FunctionSchema) (json.RawMessage, bool, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(m.extractTemp),
		llms.WithMaxTokens(m.maxTokens),
		llms.WithTools([]llms.Tool{{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		}}),
	)
	if err != nil {
		return nil, false, fmt.Errorf("extract structured: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, false, nil
	}
	m.record(metrics.OpExtract, start, response)

	for _, call := range response.Choices[0].ToolCalls {
		if call.FunctionCall == nil || call.FunctionCall.Name != fn.Name {
			continue
		}
		slog.Debug("llm extract complete", "model", m.modelName, "function", fn.Name,
			"duration_ms", time.Since(start).Milliseconds())
		return json.RawMessage(call.FunctionCall.Arguments), true, nil
	}

	// No tool call: the model declined to extract this round.
	return nil, false, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// SetMetrics attaches a collector that records per-call timing and token usage.
func (m *Model) SetMetrics(c *metrics.Collector) {
	m.stats = c
}

func (m *Model) record(op string, start time.Time, response *llms.ContentResponse) {
	if m.stats == nil {
		return
	}
	in, out := tokenUsage(response)
	m.stats.RecordLLMUsage(op, time.Since(start), in, out)
}

// tokenUsage pulls token counts out of the provider-specific generation info.
// Key names differ per langchaingo backend.
func tokenUsage(response *llms.ContentResponse) (int64, int64) {
	if response == nil || len(response.Choices) == 0 {
		return 0, 0
	}
	info := response.Choices[0].GenerationInfo

	in := tokenCount(info, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
	out := tokenCount(info, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens")
	return in, out
}

func tokenCount(info map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
