package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	// telegramMaxText is the Bot API limit for one message.
	telegramMaxText = 4096
)

var severityMarks = map[Severity]string{
	SeverityInfo:    "✅",
	SeverityWarning: "⚠️",
	SeverityError:   "🛑",
}

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string, opts ...SenderOption) *TelegramSender {
	o := applySenderOptions(telegramAPIBase, opts)
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: o.baseURL,
		client:  o.client,
	}
}

// Send posts the alert with HTML formatting. Market questions and oracle
// reasoning are escaped, since they routinely contain markup characters.
func (t *TelegramSender) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(telegramHTML(alert), telegramMaxText),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram: send: %w", redactToken(err, t.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func telegramHTML(a Alert) string {
	var b strings.Builder
	if mark := severityMarks[a.Severity]; mark != "" {
		b.WriteString(mark + " ")
	}
	b.WriteString("<b>" + html.EscapeString(a.Title) + "</b>")
	for _, f := range a.Fields {
		b.WriteString("\n<b>" + html.EscapeString(f.Name) + ":</b> " + html.EscapeString(f.Value))
	}
	if a.Link != "" {
		b.WriteString("\n<a href=\"" + html.EscapeString(a.Link) + "\">view transaction</a>")
	}
	return b.String()
}

type tokenRedactedError struct {
	msg string
	err error
}

func (e *tokenRedactedError) Error() string { return e.msg }
func (e *tokenRedactedError) Unwrap() error { return e.err }

func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &tokenRedactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}
