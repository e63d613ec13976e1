package analytics

import (
	"context"
	"testing"
	"time"

	"gatekeeper/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCountsRecentNotes(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())
	ctx := context.Background()

	now := time.Now()
	notes := []storage.ModerationNote{
		{GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: "warn", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", UserID: "u1", ModeratorID: "m1", Action: "mute", CreatedAt: now.Add(-2 * time.Hour)},
		{GuildID: "g1", UserID: "u2", ModeratorID: "m2", Action: "warn", CreatedAt: now.Add(-3 * time.Hour)},
		{GuildID: "g1", UserID: "u3", ModeratorID: "m2", Action: "kick", CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{GuildID: "g2", UserID: "u1", ModeratorID: "m1", Action: "kick", CreatedAt: now},
	}
	for i, note := range notes {
		note.CaseNumber = int64(i + 1)
		_, err := store.SaveModerationNote(ctx, note)
		require.NoError(t, err)
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Members)
	assert.Equal(t, map[string]int{"warn": 2, "mute": 1}, report.ByAction)
	assert.Equal(t, []ModeratorCount{{ModeratorID: "m1", Count: 2}, {ModeratorID: "m2", Count: 1}}, report.TopModerators(5))
	assert.Len(t, report.TopModerators(1), 1)
}
