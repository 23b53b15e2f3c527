package provider

import "context"

// ChatPayload 是一次推荐请求的全部输入。
type ChatPayload struct {
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
	// RunID 只用于把 transcript 与流水线运行关联起来。
	RunID string
}

type ModelProvider interface {
	ID() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
