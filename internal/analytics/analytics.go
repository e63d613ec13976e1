package analytics

import (
	"context"
	"sort"
	"time"

	"gatekeeper/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total       int
	ByAction    map[string]int
	ByModerator map[string]int
	// Members counts distinct members acted on.
	Members int
}

type ModeratorCount struct {
	ModeratorID string
	Count       int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	notes, err := s.store.ListModerationNotesSince(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByAction: make(map[string]int), ByModerator: make(map[string]int)}
	members := make(map[string]struct{})
	for _, note := range notes {
		report.Total++
		report.ByAction[note.Action]++
		report.ByModerator[note.ModeratorID]++
		members[note.UserID] = struct{}{}
	}
	report.Members = len(members)
	return report, nil
}

// TopModerators returns up to limit moderators by action count, ties broken by id.
func (r Report) TopModerators(limit int) []ModeratorCount {
	out := make([]ModeratorCount, 0, len(r.ByModerator))
	for id, count := range r.ByModerator {
		out = append(out, ModeratorCount{ModeratorID: id, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ModeratorID < out[j].ModeratorID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
