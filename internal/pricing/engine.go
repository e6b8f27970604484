package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine computes the price charged to end users for AI model usage.
// It is pure: no I/O, deterministic given its inputs.
type Engine struct {
	logger       *zap.Logger
	config       *Config
	rates        map[string]ModelRate
	markup       decimal.Decimal
	defaultModel string
}

// ModelRate is the wholesale cost per one million tokens, input and
// output priced separately.
type ModelRate struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Config represents pricing engine configuration
type Config struct {
	// Wholesale rates by model name
	ModelRates map[string]ModelRate `yaml:"model_rates"`

	// Markup multiplier applied to wholesale cost
	Markup float64 `yaml:"markup"`

	// Model whose rates apply when the requested model is unknown
	DefaultModel string `yaml:"default_model"`
}

// Built-in defaults used when the config leaves rates unset
// (OpenAI list prices per 1M tokens, as of 2025).
const (
	defaultMarkup = 6
	defaultModel  = "gpt-4o-mini"
)

func defaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"gpt-4o":        {InputPerMillion: 2.5, OutputPerMillion: 10.0},
		"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.6},
		"gpt-4-turbo":   {InputPerMillion: 10.0, OutputPerMillion: 30.0},
		"gpt-3.5-turbo": {InputPerMillion: 0.5, OutputPerMillion: 1.5},
	}
}

// NewEngine creates a new pricing engine
func NewEngine(config *Config, logger *zap.Logger) *Engine {
	if config == nil {
		config = &Config{}
	}

	rates := make(map[string]ModelRate)
	for model, rate := range defaultRates() {
		rates[model] = rate
	}
	for model, rate := range config.ModelRates {
		rates[strings.ToLower(strings.TrimSpace(model))] = rate
	}

	markup := decimal.NewFromInt(defaultMarkup)
	if config.Markup > 0 {
		markup = decimal.NewFromFloat(config.Markup)
	}

	fallback := defaultModel
	if config.DefaultModel != "" {
		fallback = strings.ToLower(strings.TrimSpace(config.DefaultModel))
	}
	if _, ok := rates[fallback]; !ok {
		logger.Warn("Default model has no configured rate, using built-in default",
			zap.String("default_model", fallback))
		fallback = defaultModel
	}

	return &Engine{
		logger:       logger,
		config:       config,
		rates:        rates,
		markup:       markup,
		defaultModel: fallback,
	}
}

var million = decimal.NewFromInt(1_000_000)

// Calculate returns the cost charged for a completed model invocation
// and the average price per token. Unknown models price as the default
// model; zero total tokens yields a zero price per token, never a
// division error.
func (e *Engine) Calculate(model string, inputTokens, outputTokens int64) (cost, pricePerToken decimal.Decimal) {
	rate := e.rateFor(model)

	inputCost := decimal.NewFromInt(inputTokens).Div(million).Mul(decimal.NewFromFloat(rate.InputPerMillion))
	outputCost := decimal.NewFromInt(outputTokens).Div(million).Mul(decimal.NewFromFloat(rate.OutputPerMillion))
	cost = inputCost.Add(outputCost).Mul(e.markup)

	totalTokens := inputTokens + outputTokens
	if totalTokens > 0 {
		pricePerToken = cost.Div(decimal.NewFromInt(totalTokens))
	} else {
		pricePerToken = decimal.Zero
	}

	return cost, pricePerToken
}

// Estimate approximates the token usage of rewriting a text of the
// given character length. Roughly 4 characters map to one input token
// and the output runs about 10% longer than the input.
func (e *Engine) Estimate(textLength int) (inputTokens, outputTokens int64) {
	inputTokens = int64((textLength + 3) / 4)
	outputTokens = inputTokens + inputTokens/10
	return inputTokens, outputTokens
}

// DefaultModel returns the model used when no rate matches.
func (e *Engine) DefaultModel() string {
	return e.defaultModel
}

// SupportedModels returns the models with configured rates.
func (e *Engine) SupportedModels() map[string]ModelRate {
	result := make(map[string]ModelRate, len(e.rates))
	for model, rate := range e.rates {
		result[model] = rate
	}
	return result
}

// rateFor resolves a model's wholesale rate, falling back to the
// default model's rate rather than erroring.
func (e *Engine) rateFor(model string) ModelRate {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if rate, ok := e.rates[normalized]; ok {
		return rate
	}

	e.logger.Debug("Unknown model, pricing as default",
		zap.String("model", model),
		zap.String("default_model", e.defaultModel),
	)
	return e.rates[e.defaultModel]
}
