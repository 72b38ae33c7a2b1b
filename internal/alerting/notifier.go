package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FailureNotice describes a batch that persistence has permanently given up
// on. The data in that batch is lost unless reprocessed externally, so the
// notice must reach an operator.
type FailureNotice struct {
	OccurredAt time.Time
	BatchSize  int
	Attempts   int
	Reason     string
}

// Notifier delivers operator-visible failure notices.
type Notifier interface {
	Notify(ctx context.Context, notice FailureNotice) error
}

// TelegramNotifier pushes notices through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify pushes the notice text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, notice FailureNotice) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(notice),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int("batch_size", notice.BatchSize).Msg("failure notice sent (Telegram)")
	return nil
}

func renderMessage(notice FailureNotice) string {
	builder := strings.Builder{}
	builder.WriteString("[tickflow] batch persistence failed permanently\n")
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", notice.OccurredAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Batch size: %d ticks (dropped)\n", notice.BatchSize))
	builder.WriteString(fmt.Sprintf("Attempts: %d\n", notice.Attempts))
	builder.WriteString(fmt.Sprintf("Reason: %s\n", notice.Reason))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
