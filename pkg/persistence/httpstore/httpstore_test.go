package httpstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	srv := server.New(persistence.NewMemoryStore(),
		server.WithRegistry(prometheus.NewRegistry()),
		server.WithRateLimit(0, 0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", WithTimeout(5*time.Second))
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	tree := conversation.New().
		AppendMessage(conversation.NewUserMessage("what is bgp?")).
		AppendMessage(conversation.NewAssistantMessage("A routing protocol."))
	require.NoError(t, c.SaveConversation(ctx, "conv_1", tree))

	got, err := c.GetConversation(ctx, "conv_1")
	require.NoError(t, err)
	require.Equal(t, "conv_1", got.ID)
	require.Equal(t, tree.CurrentPath(), got.Tree.CurrentPath())
	require.Equal(t, tree.CurrentMessages(), got.Tree.CurrentMessages())

	list, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "what is bgp?", list[0].Title)

	require.NoError(t, c.DeleteConversation(ctx, "conv_1"))
	_, err = c.GetConversation(ctx, "conv_1")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestClient_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"disk full"}`))
	}))
	defer ts.Close()

	c := New(ts.URL)
	err := c.SaveConversation(context.Background(), "conv_1", conversation.New())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.Status)
	require.Equal(t, "disk full", se.Message)
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListConversations(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
