package jsonutil

import (
	"encoding/json"
	"strings"
)

const codeFence = "```"

// ExtractObject 从模型输出中取出第一个合法的 JSON 对象。
// 优先查找代码块内部，其次在全文中按括号平衡扫描；前后的说明文字会被忽略。
func ExtractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if obj, ok := firstValidObject(block); ok {
			return obj, true
		}
	}
	return firstValidObject(raw)
}

func fencedBlock(raw string) (string, bool) {
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
	// 去掉 ```json 这样的语言标记行
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

func firstValidObject(raw string) (string, bool) {
	offset := 0
	for offset < len(raw) {
		rel := strings.IndexByte(raw[offset:], '{')
		if rel == -1 {
			return "", false
		}
		start := offset + rel
		end, ok := balancedEnd(raw, start, '{', '}')
		if !ok {
			return "", false
		}
		candidate := raw[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
		offset = start + 1
	}
	return "", false
}

// balancedEnd 返回与 raw[start] 配对的闭合括号位置，字符串字面量内的括号不计数。
func balancedEnd(raw string, start int, openCh, closeCh byte) (int, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return -1, false
}
