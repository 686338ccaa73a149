package langchain

import (
	"context"
	"net"
	"testing"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// fakeModel streams chunks through the streaming func, then returns resp.
type fakeModel struct {
	chunks   []string
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		if f.opts.StreamingFunc != nil {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return f.resp, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type recorder struct {
	chunks    []string
	completed *transport.Completion
	err       *transport.Error
}

func (r *recorder) handler() transport.Handler {
	return transport.HandlerFuncs{
		Chunk:    func(text string) { r.chunks = append(r.chunks, text) },
		Complete: func(c transport.Completion) { r.completed = &c },
		Error:    func(err *transport.Error) { r.err = err },
	}
}

func testRequest() transport.Request {
	return transport.NewRequest([]conversation.Message{
		conversation.NewSystemMessage("sys"),
		conversation.NewUserMessage("Hello"),
		conversation.NewAssistantMessage("Hi"),
		conversation.NewUserMessage("again"),
	})
}

func TestTransport_StreamsAndExtractsReasoning(t *testing.T) {
	m := &fakeModel{
		chunks: []string{"<think>user is", " greeting</th", "ink>\n", "Hi", " there", "!"},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content:        "<think>user is greeting</think>\nHi there!",
			GenerationInfo: map[string]any{"ReasoningTokens": 7},
		}}},
	}
	rec := &recorder{}
	New(m, "llama3").StreamChat(context.Background(), testRequest(), rec.handler())

	require.Nil(t, rec.err)
	require.Equal(t, "Hi there!", joined(rec.chunks))
	require.NotNil(t, rec.completed)
	require.Equal(t, "user is greeting", rec.completed.Reasoning)
	require.Equal(t, 7, rec.completed.ReasoningTokens)

	require.Equal(t, "llama3", m.opts.Model)
	require.Len(t, m.messages, 4)
	require.Equal(t, schema.ChatMessageTypeSystem, m.messages[0].Role)
	require.Equal(t, schema.ChatMessageTypeHuman, m.messages[1].Role)
	require.Equal(t, schema.ChatMessageTypeAI, m.messages[2].Role)
}

func TestTransport_NonStreamingModel(t *testing.T) {
	m := &fakeModel{
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "whole answer"}}},
	}
	rec := &recorder{}
	New(m, "").StreamChat(context.Background(), testRequest(), rec.handler())
	require.Equal(t, []string{"whole answer"}, rec.chunks)
	require.NotNil(t, rec.completed)
}

func TestTransport_StreamedOnlyReasoning(t *testing.T) {
	m := &fakeModel{
		chunks: []string{"<think>just", " thinking</think>"},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content: "<think>just thinking</think>",
		}}},
	}
	rec := &recorder{}
	New(m, "").StreamChat(context.Background(), testRequest(), rec.handler())

	require.Nil(t, rec.err)
	require.Empty(t, rec.chunks)
	require.NotNil(t, rec.completed)
	require.Equal(t, "just thinking", rec.completed.Reasoning)
}

func TestTransport_Error(t *testing.T) {
	m := &fakeModel{err: &net.OpError{Op: "dial", Net: "tcp", Err: context.DeadlineExceeded}}
	rec := &recorder{}
	New(m, "").StreamChat(context.Background(), testRequest(), rec.handler())
	require.Nil(t, rec.completed)
	require.NotNil(t, rec.err)
	require.Equal(t, transport.CodeTimeout, rec.err.Code)
	require.True(t, rec.err.CanRetry)
}

func joined(chunks []string) string {
	ret := ""
	for _, c := range chunks {
		ret += c
	}
	return ret
}
