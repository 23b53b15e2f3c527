package jsonutil

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var dumpOptions = &pretty.Options{Width: 100, Indent: "  "}

// Pretty 把请求/响应体排版成便于阅读的 JSON，保留原始键序；非 JSON 原样返回。
func Pretty(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return string(body)
	}
	return string(bytes.TrimRight(pretty.PrettyOptions(body, dumpOptions), "\n"))
}
