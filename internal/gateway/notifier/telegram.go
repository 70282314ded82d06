package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Telegram 通过 Bot API 向指定群/频道推送交易通知。
// 发送失败按递增间隔重试，次数耗尽后把最后一次错误交还调用方。

const (
	telegramAPIBase  = "https://api.telegram.org"
	telegramAttempts = 3
)

type Telegram struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	sleep    func(time.Duration)
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPIBase,
		client:   &http.Client{Timeout: 15 * time.Second},
		sleep:    time.Sleep,
	}
}

// SendText 以 Markdown 格式推送文本，最多尝试 3 次。
func (t *Telegram) SendText(text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram 未配置 bot_token 或 chat_id")
	}
	payload, _ := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	var lastErr error
	for attempt := 0; attempt < telegramAttempts; attempt++ {
		if attempt > 0 {
			t.sleep(time.Duration(attempt) * time.Second)
		}
		resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return lastErr
}
