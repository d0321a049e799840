// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats detected kickoff discrepancies into human-readable messages and handles
// delivery with retry logic for reliability.
//
// Messages use MarkdownV2. Long batches are split so no single message exceeds
// the Telegram length limit.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// maxMessageLen stays under Telegram's 4096 character limit
const maxMessageLen = 3800

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Name implements notify.Notifier
func (c *Client) Name() string {
	return "telegram"
}

// Notify implements notify.Notifier
func (c *Client) Notify(ctx context.Context, reports []models.DiscrepancyReport) error {
	return c.Send(ctx, reports)
}

// Send sends the detected discrepancies, split across as many messages as needed
func (c *Client) Send(ctx context.Context, reports []models.DiscrepancyReport) error {
	if len(reports) == 0 {
		return nil
	}
	for _, text := range formatMessages(reports) {
		if err := c.sendText(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

// SendError notifies that a monitoring cycle failed
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring cycle failed*\n\n`%s`", escapeCode(cycleErr.Error()))
	return c.sendText(ctx, text)
}

// SendRecovery notifies that monitoring recovered after failures
func (c *Client) SendRecovery(ctx context.Context, failedCycles int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %s",
		escapeMarkdownV2(english.Plural(failedCycles, "failed cycle", "failed cycles")))
	return c.sendText(ctx, text)
}

func (c *Client) sendText(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessages renders reports into one or more messages, never splitting a report
func formatMessages(reports []models.DiscrepancyReport) []string {
	header := formatHeader(reports)

	var messages []string
	var b strings.Builder
	b.WriteString(header)
	entries := 0

	for i, r := range reports {
		entry := formatReport(i+1, r)
		if entries > 0 && b.Len()+len(entry) > maxMessageLen {
			messages = append(messages, b.String())
			b.Reset()
			b.WriteString("⏱ *Kickoff Time Conflicts* \\(continued\\)\n\n")
			entries = 0
		}
		b.WriteString(entry)
		entries++
	}
	messages = append(messages, b.String())
	return messages
}

func formatHeader(reports []models.DiscrepancyReport) string {
	var b strings.Builder
	b.WriteString("⏱ *Kickoff Time Conflicts Detected*\n\n")

	dateStr := escapeMarkdownV2(reports[0].DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "📅 Detected: %s\n", dateStr)
	fmt.Fprintf(&b, "🔢 %s\n\n", escapeMarkdownV2(english.Plural(len(reports), "conflict", "conflicts")))
	return b.String()
}

func formatReport(n int, r models.DiscrepancyReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d\\. *%s vs %s*\n", n, escapeMarkdownV2(r.Home), escapeMarkdownV2(r.Away))
	if r.League != "" {
		fmt.Fprintf(&b, "   🏆 %s\n", escapeMarkdownV2(r.League))
	}
	fmt.Fprintf(&b, "   🗓 %s, majority kickoff *%s*\n",
		escapeMarkdownV2(r.KickoffDate), escapeMarkdownV2(r.MajorityTime))

	for _, o := range r.Outliers {
		fmt.Fprintf(&b, "   ❗ %s says %s \\(%s off\\)",
			escapeMarkdownV2(o.Source), escapeMarkdownV2(o.Time), escapeMarkdownV2(formatDuration(time.Duration(o.GapMinutes)*time.Minute)))
		if odds := formatOdds(o); odds != "" {
			fmt.Fprintf(&b, " odds %s", escapeMarkdownV2(odds))
		}
		b.WriteString("\n")
	}

	agreeing := make([]string, 0, len(r.ReportedTimes))
	outlier := make(map[string]bool, len(r.Outliers))
	for _, o := range r.Outliers {
		outlier[o.Source] = true
	}
	for _, st := range r.ReportedTimes {
		if !outlier[st.Source] {
			agreeing = append(agreeing, st.Source)
		}
	}
	if len(agreeing) > 0 {
		fmt.Fprintf(&b, "   ✔️ %s\n", escapeMarkdownV2(strings.Join(agreeing, ", ")))
	}
	b.WriteString("\n")
	return b.String()
}

func formatOdds(o models.Outlier) string {
	if o.OddsHome == nil && o.OddsDraw == nil && o.OddsAway == nil {
		return ""
	}
	part := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return humanize.FtoaWithDigits(*v, 2)
	}
	return part(o.OddsHome) + "/" + part(o.OddsDraw) + "/" + part(o.OddsAway)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a MarkdownV2 code span
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if hours > 0 && mins > 0 {
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
