package notifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramAttempts = 3

// Telegram 把告警推送到指定群/频道。ChatID 可以是数字 id 或 @channel。
type Telegram struct {
	bot     *tgbot.BotAPI
	chatID  int64
	channel string
	backoff time.Duration
}

func NewTelegram(botToken, chatID string) (*Telegram, error) {
	return newTelegram(botToken, chatID, tgbot.APIEndpoint)
}

func newTelegram(botToken, chatID, endpoint string) (*Telegram, error) {
	botToken = strings.TrimSpace(botToken)
	chatID = strings.TrimSpace(chatID)
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("telegram bot_token and chat_id are required")
	}
	t := &Telegram{backoff: time.Second}
	if strings.HasPrefix(chatID, "@") {
		t.channel = chatID
	} else {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram chat_id %q: %w", chatID, err)
		}
		t.chatID = id
	}
	bot, err := tgbot.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	t.bot = bot
	return t, nil
}

// SendText 发送 Markdown 文本，最多尝试 3 次。
func (t *Telegram) SendText(text string) error {
	var msg tgbot.MessageConfig
	if t.channel != "" {
		msg = tgbot.NewMessageToChannel(t.channel, text)
	} else {
		msg = tgbot.NewMessage(t.chatID, text)
	}
	msg.ParseMode = tgbot.ModeMarkdown
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < telegramAttempts; i++ {
		if _, err := t.bot.Send(msg); err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * t.backoff)
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}
