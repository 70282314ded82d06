package advisor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const systemPrompt = `你是一位专业的加密货币市场分析师。你的任务是分析所提供的市场数据，并提供一个清晰、简洁、结构化的交易信号。
你的分析必须严格基于所提供的数据。不要使用任何外部知识。
你的回应必须是一个严格符合以下结构的有效JSON对象，其中 "reason" 字段必须使用中文进行解释：
{
  "signal": "long",
  "reason": "这里是简洁的中文分析理由。",
  "confidence": 85,
  "suggested_entry_price": 68500.00,
  "suggested_stop_loss": 68000.50,
  "suggested_take_profit": 72000.00
}

"signal" 的可能值为: "long", "short", "neutral"。
"confidence" 是一个 0 到 100 之间的整数，代表你的确定性。
"suggested_entry_price" 是你建议的理想限价入场价格：应立即入场时贴近现价，等待回调时给出回调价位，"neutral" 时可为 null。
"suggested_stop_loss" 和 "suggested_take_profit" 应基于波动率（ATR）和关键水平（如布林带或EMA）合理设定，"neutral" 时可为 null。`

// feedbackInstruction 按历史绩效给模型的自我调整指令：
// 低分要求保守偏中性，高分肯定当前风格，中段不加指令。
func feedbackInstruction(score int) string {
	switch {
	case score < 40:
		return fmt.Sprintf("--- 重要指令：自我调整 ---\n你最近的历史绩效评分为 %d (0-100分)，表现不佳。\n因此，在本次分析中，你需要更加谨慎和保守，优先考虑给出 'neutral'（中性）的判断，并降低 'confidence' 分数。\n", score)
	case score > 75:
		return fmt.Sprintf("--- 参考信息：近期表现 ---\n你最近的历史绩效评分为 %d (0-100分)，表现优秀。请保持你当前的分析逻辑和风格。\n", score)
	default:
		return ""
	}
}

// buildUserPrompt 把行情快照排版成提示词正文。
func buildUserPrompt(snap MarketSnapshot, trackScore int, now time.Time) (string, error) {
	if strings.TrimSpace(snap.Symbol) == "" {
		return "", fmt.Errorf("快照缺少交易对")
	}
	if snap.Price <= 0 {
		return "", fmt.Errorf("快照价格非法: %v", snap.Price)
	}
	indicators, err := json.MarshalIndent(snap.Indicators, "", "  ")
	if err != nil {
		return "", err
	}
	macro, err := json.MarshalIndent(snap.Macro, "", "  ")
	if err != nil {
		return "", err
	}
	sentiment := []byte("null")
	if snap.Sentiment != nil {
		if sentiment, err = json.MarshalIndent(snap.Sentiment, "", "  "); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Please analyze the following market data for %s and provide a trading signal in the required JSON format.\n\n", snap.Symbol)
	if fb := feedbackInstruction(trackScore); fb != "" {
		b.WriteString(fb)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current Time: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Current Price: %s\n\n", strconv.FormatFloat(snap.Price, 'f', -1, 64))
	fmt.Fprintf(&b, "--- 15-Minute Chart Indicators ---\n%s\n\n", indicators)
	if snap.Patterns.Bias != "" {
		patterns, err := json.MarshalIndent(snap.Patterns, "", "  ")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "--- Chart Patterns (15m) ---\n%s\n\n", patterns)
	}
	fmt.Fprintf(&b, "--- Macro Trend Context ---\n%s\n\n", macro)
	fmt.Fprintf(&b, "--- Market Sentiment ---\n%s\n\n", sentiment)
	b.WriteString("Based on a comprehensive analysis of all the above data, what is your trading signal?")
	return b.String(), nil
}
