// Package openai streams chat completions from OpenAI-compatible APIs.
package openai

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

type Transport struct {
	client *go_openai.Client
	model  string
}

// New creates a transport for apiKey. An empty baseURL uses the OpenAI API.
func New(apiKey, baseURL, model string) *Transport {
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return NewWithClient(go_openai.NewClientWithConfig(config), model)
}

func NewWithClient(client *go_openai.Client, model string) *Transport {
	return &Transport{client: client, model: model}
}

func (t *Transport) request(req transport.Request) go_openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = t.model
	}
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return go_openai.ChatCompletionRequest{
		Model:         model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &go_openai.StreamOptions{IncludeUsage: true},
	}
}

// StreamChat forwards content deltas as chunks. Reasoning deltas are
// collected and delivered with the completion, together with the reasoning
// token count of the usage report.
func (t *Transport) StreamChat(ctx context.Context, req transport.Request, h transport.Handler) {
	oreq := t.request(req)
	stream, err := t.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		log.Debug().Err(err).Str("model", oreq.Model).Msg("OpenAI streaming request failed")
		h.OnError(classify(err))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close stream")
		}
	}()

	var reasoning strings.Builder
	reasoningTokens := 0
	chunks := 0
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Debug().Err(err).Int("chunks_received", chunks).Msg("OpenAI stream receive failed")
			h.OnError(classify(err))
			return
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta
			if delta.ReasoningContent != "" {
				reasoning.WriteString(delta.ReasoningContent)
			}
			if delta.Content != "" {
				chunks++
				h.OnChunk(delta.Content)
			}
		}
		if response.Usage != nil && response.Usage.CompletionTokensDetails != nil {
			reasoningTokens = response.Usage.CompletionTokensDetails.ReasoningTokens
		}
	}

	log.Debug().Int("chunks_received", chunks).Int("reasoning_tokens", reasoningTokens).Msg("OpenAI stream completed")
	h.OnComplete(transport.Completion{
		Reasoning:       reasoning.String(),
		ReasoningTokens: reasoningTokens,
	})
}

func classify(err error) *transport.Error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return transport.FromStatus(apiErr.HTTPStatusCode, apiErr.Message).WithCause(err)
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return transport.FromStatus(reqErr.HTTPStatusCode, reqErr.Error()).WithCause(err)
	}
	return transport.AsError(err)
}

var _ transport.Transport = (*Transport)(nil)
