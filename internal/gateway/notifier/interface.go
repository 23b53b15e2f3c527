package notifier

// TextNotifier 是流水线需要的最小告警接口，便于不同组件依赖而无需引入具体实现。
type TextNotifier interface {
	SendText(text string) error
}

// Noop 在未启用任何通知渠道时使用。
type Noop struct{}

func (Noop) SendText(string) error { return nil }
