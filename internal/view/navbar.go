package view

import (
	"context"

	"escape-room-service/internal/store"
)

// Navbar is the persistent header model: login presence, live points,
// and the running timer readout.
type Navbar struct {
	LoggedIn     bool   `json:"loggedIn"`
	Team         string `json:"team,omitempty"`
	Points       int    `json:"points"`
	TimerLevel   int    `json:"timerLevel,omitempty"`
	TimerDisplay string `json:"timerDisplay,omitempty"`
}

// WatchPoints subscribes to a team's point total and emits a navbar model
// on every change, starting with the current value.
func WatchPoints(ctx context.Context, st store.Store, team string) (<-chan Navbar, func(), error) {
	sub, err := st.Subscribe(ctx, store.PointsPath(team))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Navbar, 4)
	go func() {
		defer close(out)
		for v := range sub.Updates() {
			nav := Navbar{LoggedIn: true, Team: team, Points: v.Int()}
			select {
			case out <- nav:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- nav:
				default:
				}
			}
		}
	}()
	return out, sub.Cancel, nil
}
