package domain

import (
	"cmp"
	"slices"
	"time"
)

// LeaderboardEntry holds the points and streak counters of one attendant.
// Rank is derived from a full sort and never edited on its own.
type LeaderboardEntry struct {
	AttendantID   string    `json:"attendant_id"`
	AttendantName string    `json:"attendant_name,omitempty"`
	TotalPoints   int64     `json:"total_points"`
	CurrentStreak int       `json:"current_streak"`
	BestStreak    int       `json:"best_streak"`
	Rank          int64     `json:"rank"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CompareEntries orders entries by total points desc, best streak desc,
// current streak desc, then attendant id asc.
func CompareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.TotalPoints, a.TotalPoints); c != 0 {
		return c
	}
	if c := cmp.Compare(b.BestStreak, a.BestStreak); c != 0 {
		return c
	}
	if c := cmp.Compare(b.CurrentStreak, a.CurrentStreak); c != 0 {
		return c
	}
	return cmp.Compare(a.AttendantID, b.AttendantID)
}

// AssignRanks returns a sorted copy of entries with ranks 1..N.
func AssignRanks(entries []LeaderboardEntry) []LeaderboardEntry {
	ranked := slices.Clone(entries)
	slices.SortFunc(ranked, CompareEntries)
	for i := range ranked {
		ranked[i].Rank = int64(i + 1)
	}
	return ranked
}

// RanksConsistent reports whether ranks are 1..N and agree with CompareEntries.
func RanksConsistent(entries []LeaderboardEntry) bool {
	byRank := slices.Clone(entries)
	slices.SortFunc(byRank, func(a, b LeaderboardEntry) int { return cmp.Compare(a.Rank, b.Rank) })
	for i := range byRank {
		if byRank[i].Rank != int64(i+1) {
			return false
		}
		if i > 0 && CompareEntries(byRank[i-1], byRank[i]) > 0 {
			return false
		}
	}
	return true
}
