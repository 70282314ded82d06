package notifier

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Bark 通过 Bark App 的 HTTP GET 接口推送到 iOS 设备。
// 标题固定，正文即完整消息。参数走 query 编码，避免路径拼接吃掉特殊字符。

const barkDefaultTitle = "合约策略通知"

type Bark struct {
	pushURL string
	title   string
	client  *http.Client
}

// NewBark 接收完整的设备推送地址（含 key）。
func NewBark(pushURL string) *Bark {
	return &Bark{
		pushURL: pushURL,
		title:   barkDefaultTitle,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendText 单次推送，失败不重试，由上层决定是否告警。
func (b *Bark) SendText(text string) error {
	if b.pushURL == "" {
		return fmt.Errorf("bark 未配置推送地址")
	}
	u, err := url.Parse(b.pushURL)
	if err != nil {
		return fmt.Errorf("bark 推送地址非法: %w", err)
	}
	q := u.Query()
	q.Set("title", b.title)
	q.Set("body", text)
	q.Set("copy", text)
	u.RawQuery = q.Encode()

	resp, err := b.client.Get(u.String())
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bark status=%d", resp.StatusCode)
	}
	return nil
}
