package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Telegram pushes events to a chat or channel as Markdown messages.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

var _ Sink = (*Telegram)(nil)

func (t *Telegram) Send(evt Event) error {
	return t.sendText(formatEvent(evt))
}

// sendText posts a text message with up to 3 retries.
func (t *Telegram) sendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram not configured")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

func formatEvent(evt Event) string {
	var b strings.Builder
	switch evt.Type {
	case EventBotStarted:
		b.WriteString("🟢 *Bot started*")
	case EventBotStopped:
		b.WriteString("🔴 *Bot stopped*")
	case EventTradeOpened:
		b.WriteString("📈 *Trade opened*")
	case EventTradeClosed:
		b.WriteString("📉 *Trade closed*")
	case EventRiskRejected:
		b.WriteString("⛔ *Signal rejected*")
	default:
		fmt.Fprintf(&b, "*%s*", evt.Type)
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: `%v`", k, evt.Fields[k])
	}
	return b.String()
}
