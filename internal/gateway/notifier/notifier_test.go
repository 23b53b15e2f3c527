package notifier

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredMessage_RenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:      "⚠️",
		Title:     "Orphaned signal",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Footer:    "run 42",
	}
	msg.AddSection("Signal", KV("id", 7), KV("symbol", "BTCUSDT"), "  ")
	msg.AddSection("Empty")
	msg.AddSection("Error", "boom ```x```")

	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "⚠️ Orphaned signal\n\n```\n"))
	assert.Contains(t, out, "- id: 7\n")
	assert.Contains(t, out, "- symbol: BTCUSDT\n")
	assert.NotContains(t, out, "Empty")
	assert.Contains(t, out, "boom '''x'''")
	assert.Contains(t, out, "run 42")
	assert.True(t, strings.HasSuffix(out, "2024-05-01 12:00:00 UTC"))
}

func TestStructuredMessage_Truncates(t *testing.T) {
	msg := StructuredMessage{Title: "x"}
	msg.AddSection("big", strings.Repeat("a", maxStructuredMessageLen*2))
	out := msg.RenderMarkdown()
	assert.Equal(t, maxStructuredMessageLen+3, len(out))
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestNoop(t *testing.T) {
	var n TextNotifier = Noop{}
	assert.NoError(t, n.SendText("hi"))
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram("", "1")
	assert.Error(t, err)
	_, err = NewTelegram("tok", "")
	assert.Error(t, err)
	_, err = NewTelegram("tok", "not-a-number")
	assert.Error(t, err)
}

func TestTelegram_SendText(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
		chats []string
		fails = 1
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"desk","username":"desk_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mu.Lock()
			defer mu.Unlock()
			if fails > 0 {
				fails--
				_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"try later"}`))
				return
			}
			texts = append(texts, r.Form.Get("text"))
			chats = append(chats, r.Form.Get("chat_id"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tg, err := newTelegram("tok", "42", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	tg.backoff = time.Millisecond

	require.NoError(t, tg.SendText("hello"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, texts)
	assert.Equal(t, []string{"42"}, chats)
}
