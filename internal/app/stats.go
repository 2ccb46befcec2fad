package app

import "trivia-host/internal/domain"

// ComputeTeamStats derives per-team averages, best/worst rounds and the share
// of possible points for a finished session.
func ComputeTeamStats(record domain.HistoryRecord) []domain.TeamStats {
	stats := make([]domain.TeamStats, 0, len(record.Teams))
	for _, team := range record.Teams {
		st := domain.TeamStats{Name: team.Name}
		if n := len(team.ScoresByRound); n > 0 {
			st.HighestRound = team.ScoresByRound[0]
			st.LowestRound = team.ScoresByRound[0]
			for _, v := range team.ScoresByRound {
				st.HighestRound = max(st.HighestRound, v)
				st.LowestRound = min(st.LowestRound, v)
			}
			st.AverageScore = float64(sum(team.ScoresByRound)) / float64(n)
		}
		if record.TotalPossiblePoints > 0 {
			st.PercentOfPossible = float64(team.TotalScore) / float64(record.TotalPossiblePoints) * 100
		}
		stats = append(stats, st)
	}
	return stats
}
