package app

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"trivia-host/internal/domain"
)

// ScoreBook keeps teams in the order they were added. That order is the
// tie-break for ranking, so it never changes after setup.
type ScoreBook struct {
	questionsPerRound int
	teams             []domain.Team
	ranked            []domain.Team
}

// NewScoreBook validates team names and creates an empty book.
func NewScoreBook(teamNames []string, questionsPerRound int) (*ScoreBook, error) {
	if questionsPerRound <= 0 {
		return nil, domain.ErrInvalidConfig
	}
	if len(teamNames) < 2 {
		return nil, domain.ErrTooFewTeams
	}
	seen := make(map[string]struct{}, len(teamNames))
	teams := make([]domain.Team, 0, len(teamNames))
	for _, raw := range teamNames {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, domain.ErrInvalidConfig
		}
		if _, dup := seen[name]; dup {
			return nil, domain.ErrDuplicateTeam
		}
		seen[name] = struct{}{}
		teams = append(teams, domain.Team{Name: name, ScoresByRound: []int{}})
	}
	return &ScoreBook{questionsPerRound: questionsPerRound, teams: teams}, nil
}

// Teams returns a copy of the teams in insertion order.
func (b *ScoreBook) Teams() []domain.Team {
	return cloneTeams(b.teams)
}

// Ranked returns the latest ranking, or the insertion order before any round.
func (b *ScoreBook) Ranked() []domain.Team {
	if b.ranked == nil {
		return b.Teams()
	}
	return cloneTeams(b.ranked)
}

// RecordRound applies one round of raw scores. Either every team is updated
// or, on an invalid entry, none is.
func (b *ScoreBook) RecordRound(roundScores map[string]string) error {
	updated, err := RecordRound(b.teams, roundScores, b.questionsPerRound)
	if err != nil {
		return err
	}
	b.teams = updated
	return nil
}

// Rank orders the teams and stores placements on both views.
func (b *ScoreBook) Rank() []domain.Team {
	b.ranked = Rank(b.teams)
	placements := make(map[string]int, len(b.ranked))
	for _, t := range b.ranked {
		placements[t.Name] = t.Placement
	}
	for i := range b.teams {
		b.teams[i].Placement = placements[b.teams[i].Name]
	}
	return cloneTeams(b.ranked)
}

// RecordRound returns a copy of teams with one more round appended to each.
// Missing entries count as zero; values are clamped to [0, questionsPerRound].
func RecordRound(teams []domain.Team, roundScores map[string]string, questionsPerRound int) ([]domain.Team, error) {
	out := cloneTeams(teams)
	known := make(map[string]struct{}, len(teams))
	for i := range out {
		known[out[i].Name] = struct{}{}
		score, err := ParseScore(out[i].Name, roundScores[out[i].Name], questionsPerRound)
		if err != nil {
			return nil, err
		}
		out[i].ScoresByRound = append(out[i].ScoresByRound, score)
		out[i].CumulativeScore = sum(out[i].ScoresByRound)
	}

	unknown := make([]string, 0)
	for name := range roundScores {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &domain.InvalidScoreError{Team: unknown[0], Raw: roundScores[unknown[0]]}
	}
	return out, nil
}

// ParseScore converts a host-entered value. Blank means zero. Anything that is
// not a finite non-negative number is rejected; fractions are truncated.
func ParseScore(team, raw string, questionsPerRound int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, &domain.InvalidScoreError{Team: team, Raw: raw}
	}
	if v > float64(questionsPerRound) {
		return questionsPerRound, nil
	}
	return int(v), nil
}

// Rank orders teams by cumulative score, descending. Equal scores keep the
// order of the input slice, which must be insertion order. Placements are
// 1-based and strictly increasing, even across ties.
func Rank(teams []domain.Team) []domain.Team {
	out := cloneTeams(teams)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CumulativeScore > out[j].CumulativeScore
	})
	for i := range out {
		out[i].Placement = i + 1
	}
	return out
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}

func cloneTeams(teams []domain.Team) []domain.Team {
	out := make([]domain.Team, len(teams))
	for i, t := range teams {
		out[i] = t
		out[i].ScoresByRound = append([]int{}, t.ScoresByRound...)
	}
	return out
}
