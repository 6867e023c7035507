package domain

import (
	"sort"
	"strings"
)

// Team is the login identity and scoring unit. Teams are created out of
// band; this service only reads and updates them.
type Team struct {
	Name       string          `json:"-"`
	Password   string          `json:"password"`
	Points     int             `json:"points"`
	Progress   map[string]bool `json:"progress,omitempty"`
	LevelTimes map[int]int     `json:"levelTimes,omitempty"`
}

// Solved reports whether the team has solved the given question.
func (t Team) Solved(questionID string) bool {
	return t.Progress[questionID]
}

// SolvedCount is the number of questions the team has solved.
func (t Team) SolvedCount() int {
	n := 0
	for _, done := range t.Progress {
		if done {
			n++
		}
	}
	return n
}

// Question is a single puzzle. The answer is compared trimmed and
// case-insensitively.
type Question struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Answer  string `json:"answer"`
	Hint    string `json:"hint,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// UnlockRule gates a level on another level's solved count: the level is
// unlocked once at least RequireCount questions in RequireLevel are solved.
type UnlockRule struct {
	RequireLevel int `json:"requireLevel"`
	RequireCount int `json:"requireCount"`
}

// Catalog is the static document describing levels, questions, scoring,
// and unlock rules. It is immutable for the lifetime of a session.
type Catalog struct {
	Levels      map[int][]Question
	Points      map[int]int
	UnlockRules map[int]UnlockRule
}

// LevelNumbers returns the catalog's level numbers in ascending order.
func (c Catalog) LevelNumbers() []int {
	levels := make([]int, 0, len(c.Levels))
	for level := range c.Levels {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Question finds a question by id and returns it with its level.
func (c Catalog) Question(questionID string) (Question, int, bool) {
	for level, questions := range c.Levels {
		for _, q := range questions {
			if q.ID == questionID {
				return q, level, true
			}
		}
	}
	return Question{}, 0, false
}

// FirstQuestionID returns the id of the first question of a level, or ""
// if the level has no questions.
func (c Catalog) FirstQuestionID(level int) string {
	if questions := c.Levels[level]; len(questions) > 0 {
		return questions[0].ID
	}
	return ""
}

// LevelPoints is the per-question award for the level.
func (c Catalog) LevelPoints(level int) int {
	return c.Points[level]
}

// TotalQuestions is the number of questions across all levels.
func (c Catalog) TotalQuestions() int {
	n := 0
	for _, questions := range c.Levels {
		n += len(questions)
	}
	return n
}

// AnswerMatches compares a submitted answer against the stored one,
// trimmed and case-folded.
func AnswerMatches(stored, submitted string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(submitted))
}

// AnswerStatus classifies the outcome of an answer submission.
type AnswerStatus string

const (
	AnswerCorrect       AnswerStatus = "correct"
	AnswerIncorrect     AnswerStatus = "incorrect"
	AnswerAlreadySolved AnswerStatus = "alreadySolved"
)

// AnswerOutcome summarizes an answer submission for a team.
type AnswerOutcome struct {
	QuestionID  string       `json:"questionId"`
	Status      AnswerStatus `json:"status"`
	Awarded     int          `json:"awarded"`
	TotalPoints int          `json:"totalPoints"`
}

// HintOutcome summarizes a hint purchase. Charged is zero when the hint
// was already revealed this session.
type HintOutcome struct {
	QuestionID string `json:"questionId"`
	Hint       string `json:"hint"`
	Charged    int    `json:"charged"`
	Points     int    `json:"points"`
}
