package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRanksOrdersByPoints(t *testing.T) {
	ranked := AssignRanks([]LeaderboardEntry{
		{AttendantID: "c", TotalPoints: 100},
		{AttendantID: "a", TotalPoints: 300},
		{AttendantID: "b", TotalPoints: 200},
	})

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ranked[0].AttendantID, ranked[1].AttendantID, ranked[2].AttendantID})
	assert.Equal(t, []int64{1, 2, 3}, []int64{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
	assert.True(t, RanksConsistent(ranked))
}

func TestAssignRanksTieBreak(t *testing.T) {
	entries := []LeaderboardEntry{
		{AttendantID: "x", TotalPoints: 300, BestStreak: 2, CurrentStreak: 2},
		{AttendantID: "y", TotalPoints: 300, BestStreak: 3, CurrentStreak: 1},
		{AttendantID: "b", TotalPoints: 300, BestStreak: 2, CurrentStreak: 2},
	}

	first := AssignRanks(entries)
	assert.Equal(t, "y", first[0].AttendantID)
	assert.Equal(t, "b", first[1].AttendantID)
	assert.Equal(t, "x", first[2].AttendantID)

	// resorting an already ranked board must not move anyone
	for i := 0; i < 5; i++ {
		again := AssignRanks(first)
		assert.Equal(t, first, again)
	}
}

func TestAssignRanksDoesNotMutateInput(t *testing.T) {
	in := []LeaderboardEntry{{AttendantID: "b", TotalPoints: 1}, {AttendantID: "a", TotalPoints: 2}}
	_ = AssignRanks(in)
	assert.Equal(t, "b", in[0].AttendantID)
	assert.Zero(t, in[0].Rank)
}

func TestRanksConsistentDetectsContradiction(t *testing.T) {
	assert.False(t, RanksConsistent([]LeaderboardEntry{
		{AttendantID: "a", TotalPoints: 100, Rank: 1},
		{AttendantID: "b", TotalPoints: 200, Rank: 2},
	}))
	assert.False(t, RanksConsistent([]LeaderboardEntry{
		{AttendantID: "a", TotalPoints: 100, Rank: 1},
		{AttendantID: "b", TotalPoints: 50, Rank: 3},
	}))
	assert.True(t, RanksConsistent(nil))
}
