package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crest/internal/config"
	"crest/internal/logger"
	"crest/internal/pkg/circuit"
)

// 连续整轮失败达到阈值后熔断顾问通道，冷却期过后放行探测。
const (
	breakerThreshold = 3
	breakerCooldown  = 5 * time.Minute
)

// ChatClient 调用 OpenAI / DeepSeek / Qwen 兼容的 /v1/chat/completions 接口。
// 对 429/5xx 做有限重试（支持 Retry-After），网络错误不重试直接上抛。
// 连续多轮整体失败会触发熔断，冷却期内直接拒绝调用。
// K 线截图以 image_url 内容块随用户消息一并上送。
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	client     *http.Client
	sleep      func(time.Duration)
	breaker    *circuit.Breaker
}

func NewChatClient(cfg config.AdvisorConfig) *ChatClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &ChatClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: retries,
		client:     &http.Client{Timeout: timeout},
		sleep:      time.Sleep,
		breaker:    circuit.NewBreaker("advisor-llm", breakerThreshold, breakerCooldown),
	}
}

// endpoint 规范化 BaseURL，容忍配置里把完整的 /chat/completions 也写进来。
func (c *ChatClient) endpoint() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	base = strings.TrimSuffix(base, "/chat/completions")
	return strings.TrimRight(base, "/") + "/chat/completions"
}

// Chat 发送一轮对话并返回首个候选的文本内容。
func (c *ChatClient) Chat(ctx context.Context, system, user, imageURI string) (string, error) {
	if c.model == "" {
		return "", fmt.Errorf("顾问模型未配置")
	}
	if !c.breaker.Allow() {
		return "", fmt.Errorf("顾问接口熔断中，跳过本次调用")
	}
	body, err := json.Marshal(map[string]any{
		"model":           c.model,
		"messages":        chatMessages(system, user, imageURI),
		"temperature":     0.3,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}
	endpoint := c.endpoint()
	var images []string
	if imageURI != "" {
		images = []string{imageURI}
	}
	logger.LogLLMRequest("advisor", c.model, "market-analysis", system, user, images, string(body))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			c.breaker.RecordFailure()
			return "", err
		}
		if resp.StatusCode/100 == 2 {
			c.breaker.RecordSuccess()
			content, err := decodeChatContent(resp.Body)
			resp.Body.Close()
			if err != nil {
				return "", err
			}
			logger.LogLLMResponse("advisor", c.model, "market-analysis", content)
			return content, nil
		}
		msg := decodeChatError(resp.Body)
		resp.Body.Close()
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if !retryableStatus(resp.StatusCode) || attempt >= c.maxRetries {
			break
		}
		c.sleep(retryWait(resp.Header.Get("Retry-After"), attempt))
	}
	c.breaker.RecordFailure()
	return "", lastErr
}

func chatMessages(system, user, imageURI string) []map[string]any {
	messages := make([]map[string]any, 0, 2)
	if system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	if imageURI == "" {
		messages = append(messages, map[string]any{"role": "user", "content": user})
		return messages
	}
	parts := []map[string]any{
		{"type": "text", "text": user},
		{"type": "image_url", "image_url": map[string]any{"url": imageURI}},
	}
	return append(messages, map[string]any{"role": "user", "content": parts})
}

func decodeChatContent(r io.Reader) (string, error) {
	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return "", fmt.Errorf("顾问响应解码失败: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("顾问响应 choices 为空")
	}
	return payload.Choices[0].Message.Content, nil
}

func decodeChatError(r io.Reader) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(r).Decode(&payload)
	return strings.TrimSpace(payload.Error.Message)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryWait 优先用服务端 Retry-After，否则 0.8s 起指数退避，封顶 8s。
func retryWait(retryAfter string, attempt int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	wait := 800 * time.Millisecond << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}
