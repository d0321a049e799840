// Package discord posts discrepancy alerts to a Discord channel
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// maxContentLen is Discord's message content limit
const maxContentLen = 2000

// channelSender is the subset of *discordgo.Session used for posting
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts reports as plain-text messages to one channel
type Notifier struct {
	session   channelSender
	closer    func() error
	channelID string
}

// NewNotifier creates a bot session for channelID. The REST API is enough to
// post messages, so no gateway connection is opened.
func NewNotifier(botToken, channelID string) (*Notifier, error) {
	auth := botToken
	if !strings.HasPrefix(auth, "Bot ") {
		auth = "Bot " + auth
	}
	s, err := discordgo.New(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return &Notifier{session: s, closer: s.Close, channelID: channelID}, nil
}

// Name implements notify.Notifier
func (n *Notifier) Name() string {
	return "discord"
}

// Notify implements notify.Notifier
func (n *Notifier) Notify(ctx context.Context, reports []models.DiscrepancyReport) error {
	for _, content := range formatMessages(reports) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to post to channel %s: %w", n.channelID, err)
		}
	}
	return nil
}

// Close releases the session
func (n *Notifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

func formatMessages(reports []models.DiscrepancyReport) []string {
	if len(reports) == 0 {
		return nil
	}

	var messages []string
	var b strings.Builder
	b.WriteString(fmt.Sprintf(":stopwatch: **%d kickoff time conflict(s)**\n", len(reports)))

	for _, r := range reports {
		entry := formatReport(r)
		if b.Len()+len(entry) > maxContentLen {
			messages = append(messages, b.String())
			b.Reset()
		}
		b.WriteString(entry)
	}
	if b.Len() > 0 {
		messages = append(messages, b.String())
	}
	return messages
}

func formatReport(r models.DiscrepancyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n**%s vs %s**", escape(r.Home), escape(r.Away))
	if r.League != "" {
		fmt.Fprintf(&b, " (%s)", escape(r.League))
	}
	fmt.Fprintf(&b, "\n%s, majority %s\n", r.KickoffDate, r.MajorityTime)
	for _, o := range r.Outliers {
		fmt.Fprintf(&b, "> %s: %s (%d min off)\n", escape(o.Source), o.Time, o.GapMinutes)
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`, ">", `\>`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
