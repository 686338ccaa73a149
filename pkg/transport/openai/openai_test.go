package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/stretchr/testify/require"
)

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

func sseServer(t *testing.T, lines []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])
		msgs := body["messages"].([]interface{})
		require.Equal(t, "system", msgs[0].(map[string]interface{})["role"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", l)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func testRequest() transport.Request {
	return transport.NewRequest([]conversation.Message{
		conversation.NewSystemMessage("be brief"),
		conversation.NewUserMessage("Hello"),
	})
}

func TestTransport_Stream(t *testing.T) {
	ts := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"greet "}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"reasoning_content":"back"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"!"},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":9,"total_tokens":14,"completion_tokens_details":{"reasoning_tokens":42}}}`,
	})
	defer ts.Close()

	tr := New("key", ts.URL+"/v1", "gpt-test")
	rec := &recorder{}
	tr.StreamChat(context.Background(), testRequest(), rec.handler())

	require.Nil(t, rec.err)
	require.Equal(t, []string{"Hi", " there", "!"}, rec.chunks)
	require.NotNil(t, rec.completed)
	require.Equal(t, "greet back", rec.completed.Reasoning)
	require.Equal(t, 42, rec.completed.ReasoningTokens)
}

func TestTransport_StatusErrors(t *testing.T) {
	cases := []struct {
		status   int
		code     transport.Code
		canRetry bool
	}{
		{http.StatusUnauthorized, transport.CodeAuth, false},
		{http.StatusTooManyRequests, transport.CodeRateLimit, true},
		{http.StatusBadGateway, transport.CodeServer, true},
		{http.StatusGatewayTimeout, transport.CodeTimeout, true},
		{http.StatusBadRequest, transport.CodeUnknown, false},
	}
	for _, c := range cases {
		t.Run(http.StatusText(c.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(c.status)
				_, _ = fmt.Fprint(w, `{"error":{"message":"nope","type":"test_error"}}`)
			}))
			defer ts.Close()

			rec := &recorder{}
			New("key", ts.URL+"/v1", "gpt-test").StreamChat(context.Background(), testRequest(), rec.handler())
			require.Nil(t, rec.completed)
			require.NotNil(t, rec.err)
			require.Equal(t, c.code, rec.err.Code)
			require.Equal(t, c.status, rec.err.Status)
			require.Equal(t, c.canRetry, rec.err.CanRetry)
		})
	}
}

func TestTransport_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	rec := &recorder{}
	New("key", url+"/v1", "gpt-test").StreamChat(context.Background(), testRequest(), rec.handler())
	require.NotNil(t, rec.err)
	require.Equal(t, transport.CodeNetwork, rec.err.Code)
	require.True(t, rec.err.CanRetry)
}

func TestTransport_ModelFallback(t *testing.T) {
	tr := New("key", "", "default-model")
	require.Equal(t, "default-model", tr.request(transport.Request{}).Model)
	require.Equal(t, "other", tr.request(transport.Request{Model: "other"}).Model)
}
