// Package openai provides an nlu.Provider backed by the OpenAI Chat
// Completions API. It renders the shared command-generation prompt,
// issues one completion call per turn using
// github.com/openai/openai-go, and decodes the JSON reply into
// commands.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/nlu"
)

type (
	// CompletionsClient captures the subset of the OpenAI SDK used by the
	// provider. It is satisfied by *oai.ChatCompletionService so callers can
	// pass either a real client or a stub in tests.
	CompletionsClient interface {
		New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
	}

	// Options configures the provider.
	Options struct {
		// Model is the chat model identifier. Required.
		Model string

		// MaxTokens caps the reply length. Defaults to 1024.
		MaxTokens int

		// Temperature is sent when positive; the zero default is omitted
		// from requests.
		Temperature float64

		// Types is the command vocabulary advertised in the system prompt.
		// Defaults to the built-in command registry's types.
		Types []command.Type
	}

	// Provider implements nlu.Provider via the OpenAI Chat Completions API.
	Provider struct {
		chat   CompletionsClient
		model  string
		maxTok int64
		temp   float64
		system string
	}
)

const defaultMaxTokens = 1024

// New builds an OpenAI-backed provider from the provided completions
// client and configuration options.
func New(chat CompletionsClient, opts Options) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	types := opts.Types
	if len(types) == 0 {
		types = command.NewRegistry().Types()
	}
	return &Provider{
		chat:   chat,
		model:  opts.Model,
		maxTok: int64(maxTok),
		temp:   opts.Temperature,
		system: nlu.SystemPrompt(types),
	}, nil
}

// NewFromAPIKey constructs a provider using the default OpenAI HTTP
// client.
func NewFromAPIKey(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, Options{Model: model})
}

// Understand issues a chat completion request and decodes the reply
// into commands.
func (p *Provider) Understand(ctx context.Context, message string, pc nlu.Context) (nlu.Output, error) {
	user, err := nlu.UserPrompt(message, pc)
	if err != nil {
		return nlu.Output{}, err
	}
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(p.system),
			oai.UserMessage(user),
		},
		MaxCompletionTokens: param.NewOpt(p.maxTok),
	}
	if p.temp > 0 {
		params.Temperature = param.NewOpt(p.temp)
	}
	resp, err := p.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nlu.Output{}, fmt.Errorf("%w: %w", nlu.ErrRateLimited, err)
		}
		return nlu.Output{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nlu.Output{}, errors.New("openai: empty choices in response")
	}
	out, err := nlu.DecodeReply(resp.Choices[0].Message.Content)
	if err != nil {
		return nlu.Output{}, fmt.Errorf("openai: %w", err)
	}
	out.Model = p.model
	if resp.Model != "" {
		out.Model = resp.Model
	}
	return out, nil
}

// isRateLimited reports whether err represents provider throttling. It
// treats HTTP 429 responses as rate limited and is idempotent when
// nlu.ErrRateLimited is already present in the chain.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nlu.ErrRateLimited) {
		return true
	}
	var apiErr *oai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
