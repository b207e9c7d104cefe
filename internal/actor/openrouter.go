package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Client is a minimal OpenRouter chat-completions client on fasthttp.
// One request per call; the negotiation retry budget owns recovery, so the
// transport never retries on its own.
type Client struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	appTitle       string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		http:           &fasthttp.Client{ReadTimeout: 3 * time.Minute, WriteTimeout: 30 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 3 * time.Minute,
		appTitle:       "LLM Chess Arena",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Provider *providerPref `json:"provider,omitempty"`
	Usage    *usagePref    `json:"usage,omitempty"`
}

type providerPref struct {
	Order []string `json:"order,omitempty"`
}

type usagePref struct {
	Include bool `json:"include"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		Cost float64 `json:"cost"`
	} `json:"usage"`
}

// Complete sends one chat completion for the route and returns the reply
// text with measured latency and the provider-reported cost.
func (c *Client) Complete(ctx context.Context, route Route, transcript []Message) (*Reply, error) {
	body := chatRequest{
		Model:    route.Model,
		Messages: transcript,
		Usage:    &usagePref{Include: true},
	}
	if len(route.Providers) > 0 {
		body.Provider = &providerPref{Order: route.Providers}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/chat/completions")
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", c.appTitle)
	req.SetBody(payload)

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	latency := time.Since(start)

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("openrouter error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, nil
	}
	return &Reply{
		Text:    out.Choices[0].Message.Content,
		Cost:    out.Usage.Cost,
		Latency: latency,
	}, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ModelActor binds an identity to the OpenRouter client through a Router.
type ModelActor struct {
	client   *Client
	router   Router
	identity string
}

func NewModelActor(client *Client, router Router, identity string) *ModelActor {
	return &ModelActor{client: client, router: router, identity: strings.TrimSpace(identity)}
}

func (a *ModelActor) Name() string { return a.identity }

func (a *ModelActor) Send(ctx context.Context, transcript []Message) (*Reply, error) {
	return a.client.Complete(ctx, a.router.Resolve(a.identity), transcript)
}
