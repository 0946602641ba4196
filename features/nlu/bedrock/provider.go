// Package bedrock provides an nlu.Provider backed by the AWS Bedrock
// Converse API. It renders the shared command-generation prompt, issues
// one Converse call per turn, and decodes the JSON reply into commands.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/flowdial/flowdial/dialog/command"
	"github.com/flowdial/flowdial/dialog/nlu"
)

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the provider. It matches *bedrockruntime.Client so callers
	// can pass either the real client or a stub in tests.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the provider.
	Options struct {
		// Model is the Bedrock model identifier. Required.
		Model string

		// MaxTokens caps the reply length. Defaults to 1024.
		MaxTokens int

		// Temperature is sent when positive; the zero default is omitted
		// from requests.
		Temperature float32

		// Types is the command vocabulary advertised in the system prompt.
		// Defaults to the built-in command registry's types.
		Types []command.Type
	}

	// Provider implements nlu.Provider on top of AWS Bedrock Converse.
	Provider struct {
		runtime RuntimeClient
		model   string
		maxTok  int
		temp    float32
		system  string
	}
)

const defaultMaxTokens = 1024

// New builds a Bedrock-backed provider from the provided runtime client
// and configuration options.
func New(runtime RuntimeClient, opts Options) (*Provider, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
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
		runtime: runtime,
		model:   opts.Model,
		maxTok:  maxTok,
		temp:    opts.Temperature,
		system:  nlu.SystemPrompt(types),
	}, nil
}

// Understand issues a Converse request and decodes the reply into
// commands.
func (p *Provider) Understand(ctx context.Context, message string, pc nlu.Context) (nlu.Output, error) {
	user, err := nlu.UserPrompt(message, pc)
	if err != nil {
		return nlu.Output{}, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.model),
		System:  []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: p.system}},
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: user}},
		}},
	}
	cfg := brtypes.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(p.maxTok)), //nolint:gosec // AWS SDK requires int32
	}
	if p.temp > 0 {
		cfg.Temperature = aws.Float32(p.temp)
	}
	input.InferenceConfig = &cfg

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nlu.Output{}, fmt.Errorf("%w: %w", nlu.ErrRateLimited, err)
		}
		return nlu.Output{}, fmt.Errorf("bedrock converse: %w", err)
	}
	out, err := nlu.DecodeReply(replyText(output))
	if err != nil {
		return nlu.Output{}, fmt.Errorf("bedrock: %w", err)
	}
	out.Model = p.model
	return out, nil
}

// replyText joins the text blocks of a Converse response.
func replyText(output *bedrockruntime.ConverseOutput) string {
	if output == nil {
		return ""
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(v.Value)
		}
	}
	return b.String()
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats both HTTP 429 responses and provider error codes
// like ThrottlingException as rate-limited signals and is idempotent
// when nlu.ErrRateLimited is already present in the error chain.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nlu.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}
