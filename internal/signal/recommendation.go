package signal

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"signaldesk/internal/pkg/jsonutil"
)

// ErrDecode 表示模型输出无法解码为推荐，区别于校验失败。
var ErrDecode = errors.New("recommendation decode failed")

// Recommendation 是模型给出的未经信任的建议。
type Recommendation struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Entry      float64   `json:"entry"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	Rationale  string    `json:"rationale"`
}

// 字段别名，按顺序取第一个存在的键。
var (
	directionKeys  = []string{"direction", "action", "signal"}
	confidenceKeys = []string{"confidence", "confidence_score"}
	entryKeys      = []string{"entry", "entry_price"}
	stopKeys       = []string{"stop", "stop_loss", "stop_price", "sl"}
	targetKeys     = []string{"target", "take_profit", "target_price", "tp"}
	rationaleKeys  = []string{"rationale", "reasoning", "reason"}
)

const recommendationSchema = `{
  "type": "object",
  "required": ["direction", "confidence", "rationale"],
  "properties": {
    "direction":  {"type": "string", "minLength": 1},
    "confidence": {"type": "number"},
    "entry":      {"type": "number"},
    "stop":       {"type": "number"},
    "target":     {"type": "number"},
    "rationale":  {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("recommendation.json", recommendationSchema)

// Decode 从模型的原始文本中提取 JSON 对象并解码为 Recommendation。
// hold 方向的价格一律置 0。
func Decode(raw string) (Recommendation, error) {
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return Recommendation{}, fmt.Errorf("%w: no json object in response", ErrDecode)
	}
	root := gjson.Parse(obj)
	if nested := root.Get("recommendation"); nested.IsObject() {
		root = nested
	}

	doc := make(map[string]any, 6)
	if v, ok := firstString(root, directionKeys); ok {
		doc["direction"] = v
	}
	if v, ok := firstString(root, rationaleKeys); ok {
		doc["rationale"] = v
	}
	for field, keys := range map[string][]string{
		"confidence": confidenceKeys,
		"entry":      entryKeys,
		"stop":       stopKeys,
		"target":     targetKeys,
	} {
		v, present, err := firstNumber(root, keys)
		if err != nil {
			return Recommendation{}, fmt.Errorf("%w: %s: %v", ErrDecode, field, err)
		}
		if present {
			doc[field] = v
		}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Recommendation{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	rec := Recommendation{
		Direction:  ParseDirection(doc["direction"].(string)),
		Confidence: doc["confidence"].(float64),
		Rationale:  strings.TrimSpace(doc["rationale"].(string)),
	}
	rec.Entry, _ = doc["entry"].(float64)
	rec.Stop, _ = doc["stop"].(float64)
	rec.Target, _ = doc["target"].(float64)
	if rec.Direction.IsHold() {
		rec.Entry, rec.Stop, rec.Target = 0, 0, 0
	}
	return rec, nil
}

func firstString(root gjson.Result, keys []string) (string, bool) {
	for _, key := range keys {
		if v := root.Get(key); v.Exists() && v.Type == gjson.String {
			return v.String(), true
		}
	}
	return "", false
}

// firstNumber 接受数字或数字字符串（允许 "1,234.5"、"85%"、"$90000"），null 视为缺失。
// 溢出为 ±Inf 或 NaN 的值按解码失败处理。
func firstNumber(root gjson.Result, keys []string) (float64, bool, error) {
	for _, key := range keys {
		v := root.Get(key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		var f float64
		switch v.Type {
		case gjson.Number:
			f = v.Float()
		case gjson.String:
			s := strings.TrimSpace(v.String())
			s = strings.TrimSuffix(strings.TrimPrefix(s, "$"), "%")
			s = strings.ReplaceAll(s, ",", "")
			if s == "" {
				continue
			}
			var err error
			f, err = strconv.ParseFloat(s, 64)
			if err != nil && !errors.Is(err, strconv.ErrRange) {
				return 0, false, fmt.Errorf("key %q is not numeric: %q", key, v.String())
			}
		default:
			return 0, false, fmt.Errorf("key %q has unsupported type %s", key, v.Type)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false, fmt.Errorf("key %q is not a finite number: %s", key, v.Raw)
		}
		return f, true, nil
	}
	return 0, false, nil
}
