package signal

import "strings"

// Direction 是推荐的方向，共五个取值。
type Direction string

const (
	StrongBuy  Direction = "strong_buy"
	Buy        Direction = "buy"
	Hold       Direction = "hold"
	Sell       Direction = "sell"
	StrongSell Direction = "strong_sell"
)

var directionAliases = map[string]Direction{
	"strong_buy":  StrongBuy,
	"strongbuy":   StrongBuy,
	"buy":         Buy,
	"long":        Buy,
	"hold":        Hold,
	"wait":        Hold,
	"neutral":     Hold,
	"sell":        Sell,
	"short":       Sell,
	"strong_sell": StrongSell,
	"strongsell":  StrongSell,
}

// ParseDirection 规范化大小写、空格与连字符并解析别名；无法识别时原样返回小写形式。
func ParseDirection(raw string) Direction {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if d, ok := directionAliases[s]; ok {
		return d
	}
	return Direction(s)
}

func (d Direction) Valid() bool {
	switch d {
	case StrongBuy, Buy, Hold, Sell, StrongSell:
		return true
	}
	return false
}

func (d Direction) IsBuy() bool  { return d == Buy || d == StrongBuy }
func (d Direction) IsSell() bool { return d == Sell || d == StrongSell }
func (d Direction) IsHold() bool { return d == Hold }

func (d Direction) String() string { return string(d) }
