// Package langchain streams chat completions through langchaingo models,
// Ollama in particular.
package langchain

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// Transport adapts a langchaingo model. Reasoning that the model emits
// inline as <think> blocks is removed from the content and delivered with
// the completion.
type Transport struct {
	llm   llms.Model
	model string
}

func New(llm llms.Model, model string) *Transport {
	return &Transport{llm: llm, model: model}
}

func NewOllama(serverURL, model string) (*Transport, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return New(llm, model), nil
}

func messageContents(req transport.Request) []llms.MessageContent {
	ret := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		t := schema.ChatMessageTypeHuman
		switch m.Role {
		case conversation.RoleSystem:
			t = schema.ChatMessageTypeSystem
		case conversation.RoleAssistant:
			t = schema.ChatMessageTypeAI
		case conversation.RoleUser:
			t = schema.ChatMessageTypeHuman
		}
		ret = append(ret, llms.TextParts(t, m.Content))
	}
	return ret
}

func (t *Transport) StreamChat(ctx context.Context, req transport.Request, h transport.Handler) {
	splitter := &thinkSplitter{}
	// set once any streamed input reached the splitter, even if it was all reasoning
	fed := false
	streamingFunc := func(ctx context.Context, chunk []byte) error {
		if len(chunk) > 0 {
			fed = true
		}
		if v := splitter.Feed(string(chunk)); v != "" {
			h.OnChunk(v)
		}
		return ctx.Err()
	}

	opts := []llms.CallOption{llms.WithStreamingFunc(streamingFunc)}
	model := req.Model
	if model == "" {
		model = t.model
	}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	resp, err := t.llm.GenerateContent(ctx, messageContents(req), opts...)
	if err != nil {
		log.Debug().Err(err).Str("model", model).Msg("Langchain generation failed")
		h.OnError(transport.AsError(err))
		return
	}

	if tail := splitter.Flush(); tail != "" {
		h.OnChunk(tail)
	}

	completion := transport.Completion{}
	if resp != nil && len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if !fed && choice.Content != "" {
			// the model did not stream; deliver the full content as one chunk
			if v := splitter.Feed(choice.Content) + splitter.Flush(); v != "" {
				h.OnChunk(v)
			}
		}
		completion.ReasoningTokens = intInfo(choice.GenerationInfo, "ReasoningTokens")
	}
	completion.Reasoning = splitter.Reasoning()
	h.OnComplete(completion)
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

var _ transport.Transport = (*Transport)(nil)
