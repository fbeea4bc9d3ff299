package main

import (
	"net/http"
	"sort"

	"impossibl/pkg/types"
)

// rankPrizes splits prize rows into ranked winners and the rest. Winners
// order by first winning attempt, then total attempts, then who got there
// first. Everyone else orders by attempts, most persistent first.
func rankPrizes(prizes []types.UserPrize) (winners, players []types.LeaderboardEntry) {
	var won, rest []types.UserPrize
	for _, p := range prizes {
		if p.WonAtAttempt > 0 {
			won = append(won, p)
		} else {
			rest = append(rest, p)
		}
	}

	sort.SliceStable(won, func(i, j int) bool {
		if won[i].WonAtAttempt != won[j].WonAtAttempt {
			return won[i].WonAtAttempt < won[j].WonAtAttempt
		}
		if won[i].Attempts != won[j].Attempts {
			return won[i].Attempts < won[j].Attempts
		}
		if !won[i].UpdatedAt.Equal(won[j].UpdatedAt) {
			return won[i].UpdatedAt.Before(won[j].UpdatedAt)
		}
		return won[i].UserID < won[j].UserID
	})
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Attempts != rest[j].Attempts {
			return rest[i].Attempts > rest[j].Attempts
		}
		return rest[i].UserID < rest[j].UserID
	})

	winners = make([]types.LeaderboardEntry, 0, len(won))
	for i, p := range won {
		winners = append(winners, leaderboardEntry(i+1, p))
	}
	players = make([]types.LeaderboardEntry, 0, len(rest))
	for _, p := range rest {
		players = append(players, leaderboardEntry(0, p))
	}
	return winners, players
}

func leaderboardEntry(rank int, p types.UserPrize) types.LeaderboardEntry {
	e := types.LeaderboardEntry{
		Rank:         rank,
		UserID:       p.UserID,
		Attempts:     p.Attempts,
		WonAtAttempt: p.WonAtAttempt,
		Prize:        p.Prize,
	}
	if p.User != nil {
		e.Name = p.User.Name
	}
	return e
}

func handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tournamentId")
	t, err := getTournamentByID(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[leaderboard] %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tournament not found")
		return
	}

	prizes, err := getUserPrizes(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[leaderboard] %s prizes: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	winners, players := rankPrizes(prizes)
	writeOK(w, LeaderboardResponse{TournamentID: id, Winners: winners, Players: players})
}
