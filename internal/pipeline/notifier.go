package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// Notifier tells people about a successful deployment
type Notifier interface {
	Notify(ctx context.Context, record DeploymentRecord) (NotificationMessage, error)
}

// MessageSender delivers a chat message
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text, parseMode string) error
}

const parseModeMarkdown = "Markdown"

// TelegramNotifier sends deployment messages through a Telegram bot
type TelegramNotifier struct {
	sender MessageSender
	chatID string
}

// NewTelegramNotifier creates a notifier. A nil sender means no bot token
// is configured, which makes every Notify call fail.
func NewTelegramNotifier(sender MessageSender, chatID string) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

func (n *TelegramNotifier) Notify(ctx context.Context, record DeploymentRecord) (NotificationMessage, error) {
	if n.sender == nil {
		return NotificationMessage{}, fmt.Errorf("%w: %w: bot token", errors.ErrNotification, errors.ErrNotConfigured)
	}
	if n.chatID == "" {
		return NotificationMessage{}, fmt.Errorf("%w: %w: chat id", errors.ErrNotification, errors.ErrNotConfigured)
	}

	msg := NotificationMessage{
		ChatID:    n.chatID,
		Text:      FormatDeployMessage(record),
		ParseMode: parseModeMarkdown,
	}
	if err := n.sender.SendMessage(ctx, msg.ChatID, msg.Text, msg.ParseMode); err != nil {
		return NotificationMessage{}, fmt.Errorf("%w: %w", errors.ErrNotification, err)
	}

	logger.LogInfo("Deployment notification sent", map[string]interface{}{
		"version": record.Version,
		"chat_id": n.chatID,
	})
	return msg, nil
}

// FormatDeployMessage renders the Markdown deployment announcement
func FormatDeployMessage(record DeploymentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[DEPLOY] Model %s*\n\n", record.Version)
	b.WriteString("Metrics:\n")
	fmt.Fprintf(&b, "  - Accuracy: `%s`\n", formatScore(record.Metrics.Accuracy))
	fmt.Fprintf(&b, "  - Precision: `%s`\n", formatScore(record.Metrics.Precision))
	fmt.Fprintf(&b, "  - Recall: `%s`\n", formatScore(record.Metrics.Recall))
	fmt.Fprintf(&b, "  - F1-score: `%s`\n\n", formatScore(record.Metrics.F1))
	if record.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", record.Location)
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", record.DeployedAt.Format(time.RFC3339))
	b.WriteString("Status: OK")
	return b.String()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
