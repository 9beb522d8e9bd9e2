package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/model"
)

// RateLimitConfig bounds a RateLimitedClient's outbound request rate
// (spec §4.3's "remote API providers ... respect the remote's own rate
// limit").
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimitConfig mirrors the teacher's infrastructure/ratelimit
// defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, Burst: 200}
}

// RateLimitedClient wraps an *http.Client with a token-bucket limiter,
// adapted from infrastructure/ratelimit.RateLimitedClient: Do blocks
// until the limiter admits the request, rather than rejecting it
// outright, since a remote API provider has no fast-false obligation
// the way ratelimit.TokenBucket does for inbound traffic (§4.6).
type RateLimitedClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRateLimitedClient builds a RateLimitedClient. client defaults to
// http.DefaultClient when nil.
func NewRateLimitedClient(client *http.Client, cfg RateLimitConfig) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &RateLimitedClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Do waits for the limiter to admit the request, then delegates to the
// wrapped client.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// Allow reports whether a request would be admitted right now, without
// consuming a token unless it would.
func (c *RateLimitedClient) Allow() bool {
	return c.limiter.Allow()
}

// chatMessage is the wire shape of one model.Message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPProvider dispatches inference requests to a remote HTTP API
// speaking the OpenAI-compatible chat-completions wire format (spec
// §4.3's "remote API providers"; no wire format is mandated by the
// spec, so this is the pragmatic default most OpenAI-compatible
// endpoints already speak). It implements Provider only: package
// provider cannot import package streaming (streaming imports
// provider), so server-sent-event streaming for a remote HTTP backend
// is out of scope here and is left to a purpose-built StreamingProvider
// in a host application that can depend on both packages.
type HTTPProvider struct {
	id   string
	meta Metadata
	caps model.ProviderCapabilities

	mu         sync.RWMutex
	baseURL    string
	apiKey     string
	httpClient *RateLimitedClient

	initOnce sync.Once
}

// NewHTTPProvider builds an uninitialized HTTPProvider. caps.Streaming
// is forced false regardless of the caller's value, since this
// implementation never satisfies StreamingProvider.
func NewHTTPProvider(id string, meta Metadata, caps model.ProviderCapabilities) *HTTPProvider {
	caps.Streaming = false
	return &HTTPProvider{id: id, meta: meta, caps: caps}
}

func (p *HTTPProvider) ID() string                             { return p.id }
func (p *HTTPProvider) Metadata() Metadata                      { return p.meta }
func (p *HTTPProvider) Capabilities() model.ProviderCapabilities { return p.caps }

// Initialize reads base_url (required), api_key (optional), and the
// optional top-level keys requests_per_second (float64), burst (int)
// and timeout (time.Duration) out of config, building the
// RateLimitedClient used for every subsequent Infer call.
func (p *HTTPProvider) Initialize(ctx context.Context, config map[string]interface{}, tenant model.TenantContext) error {
	var initErr error
	p.initOnce.Do(func() {
		baseURL, _ := config["base_url"].(string)
		if baseURL == "" {
			initErr = kernelerrors.New(kernelerrors.TypeProvider, fmt.Sprintf("provider %q: base_url is required", p.id))
			return
		}
		apiKey, _ := config["api_key"].(string)

		rlCfg := DefaultRateLimitConfig()
		if rps, ok := config["requests_per_second"].(float64); ok && rps > 0 {
			rlCfg.RequestsPerSecond = rps
		}
		if burst, ok := config["burst"].(int); ok && burst > 0 {
			rlCfg.Burst = burst
		}

		timeout := 30 * time.Second
		if t, ok := config["timeout"].(time.Duration); ok && t > 0 {
			timeout = t
		}

		p.mu.Lock()
		p.baseURL = baseURL
		p.apiKey = apiKey
		p.httpClient = NewRateLimitedClient(&http.Client{Timeout: timeout}, rlCfg)
		p.mu.Unlock()
	})
	return initErr
}

// Infer dispatches req to the configured remote endpoint (spec §5
// PROVIDER_DISPATCH), respecting req.Cancel cooperatively alongside ctx.
func (p *HTTPProvider) Infer(ctx context.Context, req Request) (Response, error) {
	p.mu.RLock()
	baseURL, apiKey, client := p.baseURL, p.apiKey, p.httpClient
	p.mu.RUnlock()
	if client == nil {
		return Response{}, kernelerrors.New(kernelerrors.TypeInternal, fmt.Sprintf("provider %q was never initialized", p.id))
	}

	select {
	case <-req.Cancel:
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeNetwork, "request cancelled before dispatch", ctx.Err())
	default:
	}

	body := chatRequest{Model: req.ModelID, Stream: false}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if v, ok := req.Parameters[model.ParamTemperature].(float64); ok {
		body.Temperature = v
	}
	if v, ok := req.Parameters[model.ParamMaxTokens].(int); ok {
		body.MaxTokens = v
	}
	if v, ok := req.Parameters[model.ParamTopP].(float64); ok {
		body.TopP = v
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeInternal, "failed to encode provider request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(encoded))
	if err != nil {
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeInternal, "failed to build provider request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeNetwork, fmt.Sprintf("provider %q request failed", p.id), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeNetwork, "failed to read provider response", err)
	}

	if resp.StatusCode >= 500 {
		return Response{}, kernelerrors.New(kernelerrors.TypeProvider, fmt.Sprintf("provider %q returned %d: %s", p.id, resp.StatusCode, string(raw)))
	}
	if resp.StatusCode >= 400 {
		return Response{}, kernelerrors.New(kernelerrors.TypeValidation, fmt.Sprintf("provider %q rejected request (%d): %s", p.id, resp.StatusCode, string(raw)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, kernelerrors.Wrap(kernelerrors.TypeProvider, "failed to decode provider response", err)
	}
	if decoded.Error != nil {
		return Response{}, kernelerrors.New(kernelerrors.TypeProvider, fmt.Sprintf("provider %q: %s", p.id, decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return Response{}, kernelerrors.New(kernelerrors.TypeProvider, fmt.Sprintf("provider %q returned no choices", p.id))
	}

	choice := decoded.Choices[0]
	return Response{
		Content: choice.Message.Content,
		ModelID: req.ModelID,
		TokensUsed: model.TokenUsage{
			Prompt:     decoded.Usage.PromptTokens,
			Completion: decoded.Usage.CompletionTokens,
			Total:      decoded.Usage.TotalTokens,
		},
		FinishReason: finishReasonFrom(choice.FinishReason),
		ProviderID:   p.id,
	}, nil
}

func finishReasonFrom(s string) model.FinishReason {
	switch s {
	case "length":
		return model.FinishLength
	case "tool_calls", "function_call":
		return model.FinishToolCall
	case "", "stop":
		return model.FinishStop
	default:
		return model.FinishStop
	}
}

// Health performs a lightweight liveness probe against baseURL. An
// HTTPProvider that was never initialized is reported unhealthy rather
// than unknown, since Health is only ever called on registered
// providers (spec §4.3).
func (p *HTTPProvider) Health(ctx context.Context) Health {
	p.mu.RLock()
	baseURL, client := p.baseURL, p.httpClient
	p.mu.RUnlock()
	if client == nil || baseURL == "" {
		return Health{Status: HealthUnhealthy, Message: "not initialized", Timestamp: time.Now().UTC()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return Health{Status: HealthUnknown, Message: err.Error(), Timestamp: time.Now().UTC()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Health{Status: HealthUnhealthy, Message: err.Error(), Timestamp: time.Now().UTC()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Health{Status: HealthDegraded, Message: fmt.Sprintf("status %d", resp.StatusCode), Timestamp: time.Now().UTC()}
	}
	return Health{Status: HealthHealthy, Timestamp: time.Now().UTC()}
}

// Shutdown is a no-op: HTTPProvider holds no long-lived connections
// beyond the pooled *http.Client's own idle-connection lifecycle.
func (p *HTTPProvider) Shutdown(ctx context.Context) error {
	return nil
}
