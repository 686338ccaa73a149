// Package httpstore is a RemoteStore client for the conversation server.
package httpstore

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func New(baseURL string, opts ...Option) *Client {
	ret := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &fasthttp.Client{
			Name:                "forkchat",
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(ret)
	}
	return ret
}

// StatusError is returned for unexpected response codes.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return "conversation server returned " + fasthttp.StatusMessage(e.Status) + ": " + e.Message
}

func (c *Client) conversationURL(id string) string {
	return c.baseURL + "/api/conversations/" + url.PathEscape(id)
}

// do sends the request and decodes a 2xx JSON body into out. The deadline is
// the earlier of ctx's and the client timeout.
func (c *Client) do(ctx context.Context, method, uri string, body interface{}, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "could not encode request")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return errors.Wrapf(err, "%s %s", method, uri)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNotFound:
		return errors.Wrapf(persistence.ErrNotFound, "%s %s", method, uri)
	case status < 200 || status >= 300:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &e)
		return &StatusError{Status: status, Message: e.Error}
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "could not decode response of %s %s", method, uri)
	}
	return nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*persistence.Conversation, error) {
	var ret persistence.Conversation
	if err := c.do(ctx, fasthttp.MethodGet, c.conversationURL(id), nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) SaveConversation(ctx context.Context, id string, tree *conversation.Tree) error {
	body := map[string]interface{}{"conversation_tree": tree}
	return c.do(ctx, fasthttp.MethodPut, c.conversationURL(id), body, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]persistence.Summary, error) {
	var ret struct {
		Conversations []persistence.Summary `json:"conversations"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, c.baseURL+"/api/conversations", nil, &ret); err != nil {
		return nil, err
	}
	return ret.Conversations, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, fasthttp.MethodDelete, c.conversationURL(id), nil, nil)
}

var _ persistence.RemoteStore = (*Client)(nil)
