package tournament

import (
	"encoding/json"
	"fmt"
	"os"
)

// Ranking is one row of the final leaderboard.
type Ranking struct {
	Rank              int     `json:"rank"`
	Name              string  `json:"name"`
	Mu                float64 `json:"mu"`
	Sigma             float64 `json:"sigma"`
	ConservativeSkill float64 `json:"conservative_skill"`
}

// Matchup summarizes one pairing.
type Matchup struct {
	Snake1     string `json:"snake1"`
	Snake2     string `json:"snake2"`
	Snake1Wins int    `json:"snake1_wins"`
	Snake2Wins int    `json:"snake2_wins"`
	Draws      int    `json:"draws"`
}

// Results mirrors trueskill_results.json.
type Results struct {
	Timestamp            string             `json:"timestamp"`
	IterationsPerMatchup int                `json:"iterations_per_matchup"`
	TotalGames           int                `json:"total_games"`
	Rankings             []Ranking          `json:"rankings"`
	MatchupResults       map[string]Matchup `json:"matchup_results"`
}

// ReadResults decodes the results artifact at path.
func ReadResults(path string) (Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Results{}, fmt.Errorf("tournament: read results: %w", err)
	}
	var res Results
	if err := json.Unmarshal(data, &res); err != nil {
		return Results{}, fmt.Errorf("tournament: parse %s: %w", path, err)
	}
	return res, nil
}

// Leader returns the top-ranked entry, if any.
func (r Results) Leader() (Ranking, bool) {
	for _, row := range r.Rankings {
		if row.Rank == 1 {
			return row, true
		}
	}
	if len(r.Rankings) > 0 {
		return r.Rankings[0], true
	}
	return Ranking{}, false
}
