package view

import (
	"context"
	"sort"

	"escape-room-service/internal/domain"
	"escape-room-service/internal/store"
)

// Row is one ranked leaderboard entry. Percent is computed against the
// configured total question count, not the catalog, so it can go stale if
// the catalog grows; that staleness is a known configuration risk.
type Row struct {
	Rank          int    `json:"rank"`
	Team          string `json:"team"`
	Points        int    `json:"points"`
	Solved        int    `json:"solved"`
	Total         int    `json:"total"`
	Percent       int    `json:"percent"`
	IsCurrentTeam bool   `json:"isCurrentTeam"`
}

// BuildLeaderboard ranks every team by points descending. Ties keep the
// store's natural key order (team name ascending); that ordering is
// implementation-defined, not a contract.
func BuildLeaderboard(teams map[string]domain.Team, currentTeam string, totalQuestions int) []Row {
	names := make([]string, 0, len(teams))
	for name := range teams {
		names = append(names, name)
	}
	sort.Strings(names)
	sort.SliceStable(names, func(i, j int) bool {
		return teams[names[i]].Points > teams[names[j]].Points
	})

	rows := make([]Row, 0, len(names))
	for i, name := range names {
		team := teams[name]
		solved := team.SolvedCount()
		percent := 0
		if totalQuestions > 0 {
			// rounded to the nearest whole percent
			percent = (solved*100 + totalQuestions/2) / totalQuestions
		}
		rows = append(rows, Row{
			Rank:          i + 1,
			Team:          name,
			Points:        team.Points,
			Solved:        solved,
			Total:         totalQuestions,
			Percent:       percent,
			IsCurrentTeam: name == currentTeam,
		})
	}
	return rows
}

// WatchLeaderboard subscribes to the whole team collection and emits a
// re-ranked board on every change. Cancel the returned function to stop.
func WatchLeaderboard(ctx context.Context, st store.Store, totalQuestions int, currentTeam func() string) (<-chan []Row, func(), error) {
	sub, err := st.Subscribe(ctx, store.UsersPath)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []Row, 4)
	go func() {
		defer close(out)
		for v := range sub.Updates() {
			teams := make(map[string]domain.Team)
			if err := v.Decode(&teams); err != nil {
				continue
			}
			for name, team := range teams {
				team.Name = name
				teams[name] = team
			}
			rows := BuildLeaderboard(teams, currentTeam(), totalQuestions)
			select {
			case out <- rows:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- rows:
				default:
				}
			}
		}
	}()
	return out, sub.Cancel, nil
}
