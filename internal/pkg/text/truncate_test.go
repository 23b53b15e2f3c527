package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello", Truncate("hello", 0))
	assert.Equal(t, "hel...", Truncate("hello", 3))
	// "信号" 每个字 3 字节，截在第二个字中间时回退到字边界。
	assert.Equal(t, "信...", Truncate("信号", 4))
}
