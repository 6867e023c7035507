// Package view derives the presentation models the pages render: the
// question board, the leaderboard, and the navbar presence indicator.
package view

import (
	"time"

	"escape-room-service/internal/domain"
	"escape-room-service/internal/game"
)

// CardState is the visual state of a question card.
type CardState string

const (
	CardOpen      CardState = "open"
	CardCompleted CardState = "completed"
	CardLocked    CardState = "locked"
)

// Card is one question tile on the board.
type Card struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	State CardState `json:"state"`
}

// LevelView is one level's section of the board.
type LevelView struct {
	Number        int    `json:"number"`
	Unlocked      bool   `json:"unlocked"`
	Points        int    `json:"points"`
	Cards         []Card `json:"cards"`
	CompletedTime string `json:"completedTime,omitempty"`
}

// Board is the full question page model.
type Board struct {
	Levels []LevelView `json:"levels"`
}

// BuildBoard recomputes every card's visual state from the progress map
// and the unlock rules. Completed cards are click-disabled by state;
// locked levels lock every card in them.
func BuildBoard(cat domain.Catalog, progress map[string]bool, levelTimes map[int]int) Board {
	states := game.UnlockStates(cat, progress)
	board := Board{Levels: make([]LevelView, 0, len(cat.Levels))}
	for _, level := range cat.LevelNumbers() {
		lv := LevelView{
			Number:   level,
			Unlocked: states[level],
			Points:   cat.LevelPoints(level),
			Cards:    make([]Card, 0, len(cat.Levels[level])),
		}
		if secs, ok := levelTimes[level]; ok {
			lv.CompletedTime = game.FormatElapsed(time.Duration(secs) * time.Second)
		}
		for _, q := range cat.Levels[level] {
			state := CardOpen
			switch {
			case !lv.Unlocked:
				state = CardLocked
			case progress[q.ID]:
				state = CardCompleted
			}
			lv.Cards = append(lv.Cards, Card{ID: q.ID, Title: q.Title, State: state})
		}
		board.Levels = append(board.Levels, lv)
	}
	return board
}

// QuestionView is the opened-card detail the modal renders.
type QuestionView struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	BodyHTML          string `json:"bodyHtml"`
	FileURL           string `json:"fileUrl,omitempty"`
	Level             int    `json:"level"`
	HasHint           bool   `json:"hasHint"`
	HintRevealed      bool   `json:"hintRevealed"`
	Hint              string `json:"hint,omitempty"`
	HintCost          int    `json:"hintCost"`
	NeedsConfirmation bool   `json:"needsConfirmation"`
}

// BuildQuestion formats an engine detail for display. The stored answer
// never appears here.
func BuildQuestion(d game.QuestionDetail) QuestionView {
	qv := QuestionView{
		ID:                d.ID,
		Title:             d.Title,
		FileURL:           d.FileURL,
		Level:             d.Level,
		HasHint:           d.HasHint,
		HintRevealed:      d.HintRevealed,
		Hint:              d.Hint,
		HintCost:          d.HintCost,
		NeedsConfirmation: d.NeedsConfirmation,
	}
	if !d.NeedsConfirmation {
		qv.BodyHTML = FormatBody(d.Body)
	}
	return qv
}
