package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signaldesk/internal/logger"
	"signaldesk/internal/pkg/circuit"
	"signaldesk/internal/pkg/jsonutil"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultMaxRetries  = 2
	defaultBackoff     = 800 * time.Millisecond
	maxBackoff         = 8 * time.Second
	breakerThreshold   = 5
	breakerCooldown    = time.Minute
	defaultTemperature = 0.2
)

// ErrEmptyResponse 表示接口返回 2xx 但没有任何 choice 内容。
var ErrEmptyResponse = errors.New("model returned no content")

// Config 描述一个 OpenAI 兼容的聊天补全端点（OpenAI / DeepSeek / Qwen 等）。
type Config struct {
	ID           string
	BaseURL      string
	APIKey       string
	Model        string
	Headers      map[string]string
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	RequestsPerM int
	ExpectJSON   bool
}

// OpenAIChatClient 调用 /chat/completions，对 429/5xx 做有限重试并支持 Retry-After。
type OpenAIChatClient struct {
	cfg      Config
	url      string
	httpc    *http.Client
	limiter  *rate.Limiter
	breaker  *circuit.CircuitBreaker
	backoff  time.Duration
	maxRetry int
}

var _ ModelProvider = (*OpenAIChatClient)(nil)

func NewOpenAIChatClient(cfg Config) *OpenAIChatClient {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "openai"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	maxRetry := cfg.MaxRetries
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetries
	}
	c := &OpenAIChatClient{
		cfg:      cfg,
		url:      completionsURL(cfg.BaseURL),
		httpc:    &http.Client{},
		breaker:  circuit.NewCircuitBreaker("ai:"+cfg.ID, breakerThreshold, breakerCooldown),
		backoff:  defaultBackoff,
		maxRetry: maxRetry,
	}
	if cfg.RequestsPerM > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerM)), 1)
	}
	return c
}

// completionsURL 规范化 BaseURL，避免配置里已写了 /chat/completions 导致重复路径。
func completionsURL(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if url == "" {
		url = defaultBaseURL
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) ID() string { return c.cfg.ID }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StatusError 是非 2xx 响应。
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.Code, e.Message)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Call 返回模型的原始文本输出；解析交给调用方。
func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if !c.breaker.Allow() {
		return "", fmt.Errorf("%s: %w", c.cfg.ID, circuit.ErrOpen)
	}
	body, err := c.encode(payload)
	if err != nil {
		return "", err
	}
	logger.LogLLMRequest(c.cfg.ID, payload.RunID, payload.System, payload.User, jsonutil.Pretty(body))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		out, wait, err := c.do(ctx, body)
		if err == nil {
			c.breaker.RecordSuccess()
			logger.LogLLMResponse(c.cfg.ID, payload.RunID, out)
			return out, nil
		}
		lastErr = err
		var se *StatusError
		if !errors.As(err, &se) || !se.retryable() || attempt == c.maxRetry {
			break
		}
		if wait <= 0 {
			wait = c.backoff << attempt
			if wait > maxBackoff {
				wait = maxBackoff
			}
		}
		logger.Warnf("[AI] %s %v, retry %d/%d in %s", c.cfg.ID, err, attempt+1, c.maxRetry, wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return "", err
		}
	}
	if ctx.Err() == nil {
		c.breaker.RecordFailure()
	}
	return "", fmt.Errorf("%s: %w", c.cfg.ID, lastErr)
}

func (c *OpenAIChatClient) encode(p ChatPayload) ([]byte, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = p.MaxTokens
	}
	if strings.TrimSpace(p.System) != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})
	if p.ExpectJSON || c.cfg.ExpectJSON {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	return b, nil
}

// do 发送一次请求；第二个返回值是服务端要求的 Retry-After。
func (c *OpenAIChatClient) do(ctx context.Context, body []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eresp errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		return "", retryAfter(resp.Header.Get("Retry-After")), &StatusError{Code: resp.StatusCode, Message: msg}
	}
	var r chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", 0, fmt.Errorf("decode chat response: %w", err)
	}
	if len(r.Choices) == 0 || strings.TrimSpace(r.Choices[0].Message.Content) == "" {
		return "", 0, ErrEmptyResponse
	}
	return r.Choices[0].Message.Content, 0, nil
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
