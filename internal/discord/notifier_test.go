package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

type fakeSession struct {
	channels []string
	contents []string
	err      error
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channels = append(f.channels, channelID)
	f.contents = append(f.contents, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func report(home string) models.DiscrepancyReport {
	return models.DiscrepancyReport{
		ID:            "r-1",
		MatchKey:      "k",
		Home:          home,
		Away:          "AFC_Leopards",
		League:        "FKF",
		KickoffDate:   "2026-10-18",
		MajorityTime:  "15:00",
		Outliers:      []models.Outlier{{Source: "Mozzartbet", Time: "16:00", GapMinutes: 60}},
		MaxGapMinutes: 60,
		DetectedAt:    time.Now(),
	}
}

func TestNotify(t *testing.T) {
	f := &fakeSession{}
	n := &Notifier{session: f, channelID: "123"}

	require.NoError(t, n.Notify(context.Background(), []models.DiscrepancyReport{report("Gor Mahia")}))
	require.Len(t, f.contents, 1)
	assert.Equal(t, "123", f.channels[0])

	msg := f.contents[0]
	assert.Contains(t, msg, "**1 kickoff time conflict(s)**")
	assert.Contains(t, msg, `**Gor Mahia vs AFC\_Leopards** (FKF)`)
	assert.Contains(t, msg, "> Mozzartbet: 16:00 (60 min off)")
	assert.NoError(t, n.Close())
}

func TestNotify_SplitsAtLimit(t *testing.T) {
	f := &fakeSession{}
	n := &Notifier{session: f, channelID: "123"}

	var reports []models.DiscrepancyReport
	for i := 0; i < 40; i++ {
		reports = append(reports, report(fmt.Sprintf("Team %d", i)))
	}
	require.NoError(t, n.Notify(context.Background(), reports))
	require.Greater(t, len(f.contents), 1)

	total := 0
	for _, c := range f.contents {
		assert.LessOrEqual(t, len(c), maxContentLen)
		total += strings.Count(c, "> Mozzartbet")
	}
	assert.Equal(t, len(reports), total)
}

func TestNotify_Error(t *testing.T) {
	n := &Notifier{session: &fakeSession{err: errors.New("401 Unauthorized")}, channelID: "123"}
	err := n.Notify(context.Background(), []models.DiscrepancyReport{report("A")})
	assert.ErrorContains(t, err, "401")
}
