// Package telegram sends events through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/notifier"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	name     string
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(name, botToken, chatID string) *Telegram {
	return &Telegram{
		name:     name,
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Telegram) Name() string {
	if t.name == "" {
		return "telegram"
	}
	return t.name
}

// Init applies cfg. cfg.URL, when set, replaces the Bot API base URL.
func (t *Telegram) Init(cfg config.NotifierConfig) error {
	if cfg.BotToken != "" {
		t.botToken = cfg.BotToken
	}
	if cfg.ChatID != "" {
		t.chatID = cfg.ChatID
	}
	if cfg.URL != "" {
		t.apiBase = strings.TrimSuffix(cfg.URL, "/")
	}
	if t.apiBase == "" {
		t.apiBase = defaultAPIBase
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, e notifier.Event) error {
	return t.sendMessage(ctx, formatEvent(e))
}

func (t *Telegram) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%d switchboard events</b>\n\n", len(events))
	for i, e := range events {
		sb.WriteString(formatEvent(e))
		if i < len(events)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

// formatEvent renders e as Telegram HTML. Every interpolated value is
// escaped: messages carry raw provider error bodies.
func formatEvent(e notifier.Event) string {
	esc := html.EscapeString

	var sb strings.Builder

	icon := "ℹ️"
	switch e.Severity {
	case "critical":
		icon = "🔴"
	case "warning":
		icon = "🟡"
	}

	fmt.Fprintf(&sb, "%s <b>%s</b>\n", icon, esc(e.Title))
	if e.Message != "" {
		fmt.Fprintf(&sb, "%s\n", esc(e.Message))
	}
	if e.Provider != "" {
		fmt.Fprintf(&sb, "Provider: %s\n", esc(e.Provider))
	}
	if e.DispatchID != "" {
		fmt.Fprintf(&sb, "Dispatch: <code>%s</code>\n", esc(e.DispatchID))
	}
	if !e.At.IsZero() {
		fmt.Fprintf(&sb, "Time: %s", e.At.Format("2006-01-02 15:04:05"))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return core.WrapError(core.ErrNotifierFailed, fmt.Errorf("telegram: failed to send message: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result struct {
			Description string `json:"description"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		return core.WrapError(core.ErrNotifierFailed,
			fmt.Errorf("telegram: API error (status %d): %s", resp.StatusCode, result.Description))
	}

	return nil
}
