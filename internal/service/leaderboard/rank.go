package leaderboard

import (
	"sort"

	"github.com/aimd54/lingo-progression/internal/models"
)

// Less orders entries for ranking: more XP first, then the entry created
// earlier, then the lower id.
func Less(a, b *models.LeaderboardEntry) bool {
	if a.XP != b.XP {
		return a.XP > b.XP
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// AssignRanks sorts entries in place, sets Rank to index+1 and returns
// id -> rank for the entries whose rank changed.
func AssignRanks(entries []models.LeaderboardEntry) map[uint]int {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(&entries[i], &entries[j])
	})

	changed := make(map[uint]int)
	for i := range entries {
		rank := i + 1
		if entries[i].Rank != rank {
			changed[entries[i].ID] = rank
			entries[i].Rank = rank
		}
	}
	return changed
}
