package symbol

import "strings"

// ToBinance 把任意写法转换为 Binance 合约代码（去掉分隔符并大写）。
// 无法识别报价币种时原样大写返回，交给交易所判定。
func ToBinance(raw string) string {
	if sym := Parse(raw).Binance(); sym != "" {
		return sym
	}
	s := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}
