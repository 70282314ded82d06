package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractJSON 从模型自由文本里剥出第一个完整的 JSON 值。
// 优先找 ``` 围栏内的内容，其次是裸数组，最后是裸对象。
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := extractFromFence(raw); ok {
		return block, true
	}
	if arr, ok := extractBalanced(raw, '[', ']'); ok {
		return arr, true
	}
	return extractBalanced(raw, '{', '}')
}

func extractFromFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 围栏起始行可能是 "json" 之类的语言标记，跳过。
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	if arr, ok := extractBalanced(block, '[', ']'); ok {
		return arr, true
	}
	return block, true
}

// extractBalanced 截取首个配平的括号段，字符串字面量内的括号不参与计数。
func extractBalanced(raw string, lbrace, rbrace byte) (string, bool) {
	start := strings.IndexByte(raw, lbrace)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case lbrace:
			depth++
		case rbrace:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
