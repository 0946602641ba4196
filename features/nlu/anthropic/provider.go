// Package anthropic provides an nlu.Provider backed by the Anthropic
// Claude Messages API. It renders the shared command-generation prompt,
// issues one anthropic.Message call per turn using
// github.com/anthropics/anthropic-sdk-go, and decodes the JSON reply
// into commands.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/nlu"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the provider. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a stub in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the provider.
	Options struct {
		// Model is the Claude model identifier. Required. Use the typed model
		// constants from github.com/anthropics/anthropic-sdk-go (for example,
		// string(sdk.ModelClaudeSonnet4_5_20250929)) or the identifiers from
		// the Anthropic model reference.
		Model string

		// MaxTokens caps the reply length. Command lists are short; the
		// default of 1024 leaves generous room for reasoning text.
		MaxTokens int

		// Temperature is sent when positive. Command generation wants
		// deterministic output, so the zero default is omitted from requests
		// and the API falls back to its own default.
		Temperature float64

		// Types is the command vocabulary advertised in the system prompt.
		// Defaults to the built-in command registry's types.
		Types []command.Type
	}

	// Provider implements nlu.Provider on top of Anthropic Claude Messages.
	Provider struct {
		msg    MessagesClient
		model  string
		maxTok int64
		temp   float64
		system string
	}
)

const defaultMaxTokens = 1024

// New builds an Anthropic-backed provider from the provided Messages
// client and configuration options.
func New(msg MessagesClient, opts Options) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
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
		msg:    msg,
		model:  opts.Model,
		maxTok: int64(maxTok),
		temp:   opts.Temperature,
		system: nlu.SystemPrompt(types),
	}, nil
}

// NewFromAPIKey constructs a provider using the default Anthropic HTTP
// client.
func NewFromAPIKey(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Understand issues a Messages.New request and decodes the reply into
// commands.
func (p *Provider) Understand(ctx context.Context, message string, pc nlu.Context) (nlu.Output, error) {
	user, err := nlu.UserPrompt(message, pc)
	if err != nil {
		return nlu.Output{}, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: p.maxTok,
		Model:     sdk.Model(p.model),
		System:    []sdk.TextBlockParam{{Text: p.system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
	}
	if p.temp > 0 {
		params.Temperature = sdk.Float(p.temp)
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nlu.Output{}, fmt.Errorf("%w: %w", nlu.ErrRateLimited, err)
		}
		return nlu.Output{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	out, err := nlu.DecodeReply(replyText(msg))
	if err != nil {
		return nlu.Output{}, fmt.Errorf("anthropic: %w", err)
	}
	out.Model = p.model
	if msg != nil && msg.Model != "" {
		out.Model = string(msg.Model)
	}
	return out, nil
}

// replyText joins the text blocks of a response. Claude may split the
// JSON object across blocks when it prefixes prose.
func replyText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
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
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
