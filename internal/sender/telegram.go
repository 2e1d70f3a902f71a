package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/jobhunter/internal/render"
)

const (
	ChannelTelegram    = "telegram"
	defaultTelegramAPI = "https://api.telegram.org"
	// Telegram rejects longer messages.
	maxTelegramText = 4096
)

// Telegram posts messages through the Bot API. The recipient is a chat id.
type Telegram struct {
	token   string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewTelegram(token string, client *http.Client) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{token: token, baseURL: defaultTelegramAPI, client: client, now: time.Now}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *Telegram) Send(ctx context.Context, content render.Content, recipient string) (Ack, error) {
	text := content.Body
	if content.Subject != "" {
		text = content.Subject + "\n\n" + text
	}
	if r := []rune(text); len(r) > maxTelegramText {
		text = string(r[:maxTelegramText-3]) + "..."
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  recipient,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return Ack{}, Permanent(ChannelTelegram, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.baseURL, "/"), t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Ack{}, Permanent(ChannelTelegram, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Ack{}, Transient(ChannelTelegram, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ack{}, Transient(ChannelTelegram, err)
	}

	var decoded telegramResponse
	_ = json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK || !decoded.OK {
		reason := decoded.Description
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		err := fmt.Errorf("telegram api status %d: %s", resp.StatusCode, reason)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return Ack{}, Transient(ChannelTelegram, err)
		}
		return Ack{}, Permanent(ChannelTelegram, err)
	}

	return Ack{
		Channel: ChannelTelegram,
		ID:      strconv.FormatInt(decoded.Result.MessageID, 10),
		At:      t.now(),
	}, nil
}
