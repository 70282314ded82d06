package notifier

import (
	"strings"
	"time"
)

// 单条 Telegram 消息的安全长度上限，超出部分截断。
const maxMessageLen = 3800

// MessageSection 是通知正文里的一个小节。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 统一各类交易事件的推送版式：
// 图标加标题开头，小节以代码块呈现，末尾带落款与时间。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 输出 Telegram Markdown 文本。
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, len(m.Sections)+3)
	if head := strings.TrimSpace(m.Icon + " " + m.Title); head != "" {
		parts = append(parts, head)
	}
	for _, sec := range m.Sections {
		if block := sec.render(); block != "" {
			parts = append(parts, block)
		}
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		parts = append(parts, escapeFence(footer))
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, "时间: "+m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	text := strings.Join(parts, "\n\n")
	if len(text) > maxMessageLen {
		text = truncateMarkdown(text, maxMessageLen)
	}
	return text
}

func (s MessageSection) render() string {
	lines := make([]string, 0, len(s.Lines))
	for _, raw := range s.Lines {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, escapeFence(line))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	if title := strings.TrimSpace(s.Title); title != "" {
		b.WriteString("*" + escapeFence(title) + "*\n")
	}
	b.WriteString("```\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n```")
	return b.String()
}

// escapeFence 防止正文内容提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// truncateMarkdown 按字节截断超长消息，代码块被截开时补上收尾围栏。
func truncateMarkdown(text string, limit int) string {
	cut := strings.ToValidUTF8(text[:limit], "")
	if strings.Count(cut, "```")%2 == 1 {
		return cut + "\n```"
	}
	return cut + "..."
}
