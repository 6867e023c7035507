// Package game holds the unlock/progress engine and the level timer: the
// session state machine that reconciles catalog rules against the remote
// progress snapshots pushed by the store.
package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"escape-room-service/internal/domain"
	"escape-room-service/internal/session"
	"escape-room-service/internal/store"
)

// DefaultHintCost is the fixed point price of revealing a hint.
const DefaultHintCost = 10

// EventType labels engine notifications.
type EventType string

const (
	// EventProgress fires on every progress snapshot from the store.
	EventProgress EventType = "progress"
	// EventCompletion fires at most once per level per session.
	EventCompletion EventType = "completion"
	// EventTick carries the running timer display, once per second.
	EventTick EventType = "tick"
)

// Event is a notification for the presentation layer.
type Event struct {
	Type     EventType
	Level    int
	Display  string
	Message  string
	Progress map[string]bool
}

// QuestionDetail is what opening a card yields. When NeedsConfirmation is
// set nothing else is populated: the caller must re-open with confirmed
// set, or drop the click.
type QuestionDetail struct {
	ID                string
	Title             string
	Body              string
	FileURL           string
	Level             int
	HasHint           bool
	HintRevealed      bool
	Hint              string
	HintCost          int
	NeedsConfirmation bool
}

// Options configures an Engine.
type Options struct {
	Store    store.Store
	Gate     *store.Gate
	Sessions session.Store
	Catalog  domain.Catalog
	Clock    clockwork.Clock
	Logger   zerolog.Logger
	HintCost int
}

// Engine owns one session's game state: the active team, the running
// timer, per-session completion flags, and revealed hints. It is
// constructed per page load and discarded on logout. Progress snapshots
// arrive on a store subscription; handlers are idempotent under
// redelivery.
type Engine struct {
	store    store.Store
	gate     *store.Gate
	sessions session.Store
	catalog  domain.Catalog
	clock    clockwork.Clock
	log      zerolog.Logger
	hintCost int

	events chan Event
	subs   *store.SubscriptionSet

	mu        sync.Mutex
	team      string
	timer     *Timer
	progress  map[string]bool
	completed map[int]bool
	revealed  map[string]bool
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HintCost <= 0 {
		opts.HintCost = DefaultHintCost
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemStore()
	}
	return &Engine{
		store:     opts.Store,
		gate:      opts.Gate,
		sessions:  opts.Sessions,
		catalog:   opts.Catalog,
		clock:     opts.Clock,
		log:       opts.Logger,
		hintCost:  opts.HintCost,
		events:    make(chan Event, 32),
		subs:      store.NewSubscriptionSet(),
		completed: make(map[int]bool),
		revealed:  make(map[string]bool),
		progress:  make(map[string]bool),
	}
}

// Events delivers engine notifications. Slow consumers lag, never block.
func (e *Engine) Events() <-chan Event { return e.events }

// Catalog returns the session's immutable catalog.
func (e *Engine) Catalog() domain.Catalog { return e.catalog }

// Login authenticates a team by plaintext password equality against the
// stored record, persists the identity, and starts the progress watch.
func (e *Engine) Login(ctx context.Context, team, password string) (domain.Team, error) {
	if err := e.gate.Await(ctx); err != nil {
		return domain.Team{}, err
	}
	rec, err := e.loadTeam(ctx, team)
	if err != nil {
		return domain.Team{}, err
	}
	if rec.Password != password {
		return domain.Team{}, domain.ErrWrongPassword
	}
	if err := e.sessions.Set(team); err != nil {
		e.log.Warn().Err(err).Msg("persist session identity")
	}
	if err := e.attach(ctx, team, rec); err != nil {
		return domain.Team{}, err
	}
	return rec, nil
}

// Resume re-attaches the identity left in the session store after a page
// reload. Unlock state rebuilds from stored progress; elapsed time for a
// level that was mid-flight is lost, since no timer was running here.
func (e *Engine) Resume(ctx context.Context) (domain.Team, error) {
	team, ok := e.sessions.Get()
	if !ok {
		return domain.Team{}, domain.ErrNotLoggedIn
	}
	if err := e.gate.Await(ctx); err != nil {
		return domain.Team{}, err
	}
	rec, err := e.loadTeam(ctx, team)
	if err != nil {
		return domain.Team{}, err
	}
	if err := e.attach(ctx, team, rec); err != nil {
		return domain.Team{}, err
	}
	return rec, nil
}

// Logout tears the session down: listeners cancelled, timer stopped,
// identity cleared, per-session state discarded.
func (e *Engine) Logout() {
	e.subs.CancelAll()
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.team = ""
	e.timer = nil
	e.progress = make(map[string]bool)
	e.completed = make(map[int]bool)
	e.revealed = make(map[string]bool)
	e.mu.Unlock()
	if err := e.sessions.Clear(); err != nil {
		e.log.Warn().Err(err).Msg("clear session identity")
	}
}

// Close releases listeners and timers without clearing the durable
// identity, for connection teardown.
func (e *Engine) Close() {
	e.subs.CancelAll()
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// Team is the active team name, or "".
func (e *Engine) Team() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.team
}

// Progress is a copy of the latest progress snapshot.
func (e *Engine) Progress() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.progress))
	for qid, done := range e.progress {
		out[qid] = done
	}
	return out
}

// Unlocks is the current unlocked flag per level.
func (e *Engine) Unlocks() map[int]bool {
	return UnlockStates(e.catalog, e.Progress())
}

// LevelTimes is the persisted per-level durations known this session.
func (e *Engine) LevelTimes() map[int]int {
	e.mu.Lock()
	timer := e.timer
	e.mu.Unlock()
	if timer == nil {
		return map[int]int{}
	}
	return timer.LevelTimes()
}

// TimerLevel is the currently timed level, or zero.
func (e *Engine) TimerLevel() int {
	e.mu.Lock()
	timer := e.timer
	e.mu.Unlock()
	if timer == nil {
		return 0
	}
	return timer.Current()
}

// TimerDisplay is the running MM:SS readout, or "".
func (e *Engine) TimerDisplay() string {
	e.mu.Lock()
	timer := e.timer
	e.mu.Unlock()
	if timer == nil {
		return ""
	}
	return timer.Display()
}

// Snapshot re-reads the active team's record from the store.
func (e *Engine) Snapshot(ctx context.Context) (domain.Team, error) {
	team := e.Team()
	if team == "" {
		return domain.Team{}, domain.ErrNotLoggedIn
	}
	return e.loadTeam(ctx, team)
}

// OpenQuestion resolves a card click. Locked levels and solved questions
// refuse to open. Opening the first question of a level that is not the
// timed one requires confirmation: unconfirmed calls return
// NeedsConfirmation and change nothing, so declining cancels the click.
// Confirming starts the level's timer before the detail is returned.
func (e *Engine) OpenQuestion(ctx context.Context, questionID string, confirmed bool) (QuestionDetail, error) {
	q, level, ok := e.catalog.Question(questionID)
	if !ok {
		return QuestionDetail{}, domain.ErrQuestionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.team == "" {
		return QuestionDetail{}, domain.ErrNotLoggedIn
	}
	if !Unlocked(e.catalog, e.progress, level) {
		return QuestionDetail{}, domain.ErrLevelLocked
	}
	if e.progress[questionID] {
		return QuestionDetail{}, domain.ErrAlreadySolved
	}

	// LastTimed, not Current: a level whose timer already ran this
	// session (including one stopped by completion) never re-prompts, so
	// its recorded time cannot be overwritten by a restart.
	first := e.catalog.FirstQuestionID(level) == questionID
	if first && e.timer.LastTimed() != level {
		if !confirmed {
			return QuestionDetail{ID: questionID, Level: level, NeedsConfirmation: true}, nil
		}
		if err := e.timer.Start(ctx, level); err != nil {
			e.log.Warn().Err(err).Int("level", level).Msg("persist previous level time on switch")
		}
	}

	detail := QuestionDetail{
		ID:           q.ID,
		Title:        q.Title,
		Body:         q.Body,
		FileURL:      q.FileURL,
		Level:        level,
		HasHint:      q.Hint != "",
		HintRevealed: e.revealed[questionID],
		HintCost:     e.hintCost,
	}
	if detail.HintRevealed {
		detail.Hint = q.Hint
	}
	return detail, nil
}

// SubmitAnswer checks the submission and, on a match, awards the level's
// points and marks progress in one multi-path update. The team snapshot
// is re-read first so a repeated submit reports already-solved instead of
// double-crediting. Points use read-modify-write with no compare-and-
// swap: concurrent submits from two devices can lose one award, an
// accepted risk.
func (e *Engine) SubmitAnswer(ctx context.Context, questionID, answer string) (domain.AnswerOutcome, error) {
	team := e.Team()
	if team == "" {
		return domain.AnswerOutcome{}, domain.ErrNotLoggedIn
	}
	q, level, ok := e.catalog.Question(questionID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrQuestionNotFound
	}
	if !Unlocked(e.catalog, e.Progress(), level) {
		return domain.AnswerOutcome{}, domain.ErrLevelLocked
	}

	if !domain.AnswerMatches(q.Answer, answer) {
		return domain.AnswerOutcome{QuestionID: questionID, Status: domain.AnswerIncorrect}, nil
	}

	rec, err := e.loadTeam(ctx, team)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if rec.Solved(questionID) {
		return domain.AnswerOutcome{
			QuestionID:  questionID,
			Status:      domain.AnswerAlreadySolved,
			TotalPoints: rec.Points,
		}, nil
	}

	award := e.catalog.LevelPoints(level)
	newPoints := rec.Points + award
	updates := map[string]any{
		store.QuestionProgressPath(team, questionID): true,
		store.PointsPath(team):                       newPoints,
	}
	if err := e.store.Update(ctx, updates); err != nil {
		return domain.AnswerOutcome{}, fmt.Errorf("record answer: %w", err)
	}

	e.log.Info().Str("team", team).Str("question", questionID).Int("awarded", award).Msg("answer accepted")
	return domain.AnswerOutcome{
		QuestionID:  questionID,
		Status:      domain.AnswerCorrect,
		Awarded:     award,
		TotalPoints: newPoints,
	}, nil
}

// BuyHint reveals a question's hint for a fixed cost. The team's points
// are re-read; short balances block the purchase with no state change. A
// hint already revealed this session is returned again free of charge.
func (e *Engine) BuyHint(ctx context.Context, questionID string) (domain.HintOutcome, error) {
	team := e.Team()
	if team == "" {
		return domain.HintOutcome{}, domain.ErrNotLoggedIn
	}
	q, _, ok := e.catalog.Question(questionID)
	if !ok {
		return domain.HintOutcome{}, domain.ErrQuestionNotFound
	}
	if q.Hint == "" {
		return domain.HintOutcome{}, domain.ErrNoHint
	}

	rec, err := e.loadTeam(ctx, team)
	if err != nil {
		return domain.HintOutcome{}, err
	}

	e.mu.Lock()
	alreadyRevealed := e.revealed[questionID]
	e.mu.Unlock()
	if alreadyRevealed {
		return domain.HintOutcome{QuestionID: questionID, Hint: q.Hint, Points: rec.Points}, nil
	}

	if rec.Points < e.hintCost {
		return domain.HintOutcome{}, domain.ErrInsufficientPoints
	}
	newPoints := rec.Points - e.hintCost
	if err := e.store.Set(ctx, store.PointsPath(team), newPoints); err != nil {
		return domain.HintOutcome{}, fmt.Errorf("charge hint: %w", err)
	}

	e.mu.Lock()
	e.revealed[questionID] = true
	e.mu.Unlock()

	e.log.Info().Str("team", team).Str("question", questionID).Int("charged", e.hintCost).Msg("hint revealed")
	return domain.HintOutcome{QuestionID: questionID, Hint: q.Hint, Charged: e.hintCost, Points: newPoints}, nil
}

func (e *Engine) loadTeam(ctx context.Context, team string) (domain.Team, error) {
	v, err := e.store.Get(ctx, store.TeamPath(team))
	if err != nil {
		return domain.Team{}, fmt.Errorf("load team %s: %w", team, err)
	}
	if !v.Exists() {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	var rec domain.Team
	if err := v.Decode(&rec); err != nil {
		return domain.Team{}, fmt.Errorf("decode team %s: %w", team, err)
	}
	rec.Name = team
	return rec, nil
}

// attach resets per-session state for a team and starts the progress
// watch. Completion flags always start false: they are session-scoped.
func (e *Engine) attach(ctx context.Context, team string, rec domain.Team) error {
	e.subs.CancelAll()

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.team = team
	e.completed = make(map[int]bool)
	e.revealed = make(map[string]bool)
	e.progress = make(map[string]bool, len(rec.Progress))
	for qid, done := range rec.Progress {
		e.progress[qid] = done
	}
	e.timer = NewTimer(e.store, team, e.clock, func(level int, display string) {
		e.emit(Event{Type: EventTick, Level: level, Display: display})
	})
	e.timer.SeedSaved(rec.LevelTimes)
	e.mu.Unlock()

	sub, err := e.store.Subscribe(ctx, store.ProgressPath(team))
	if err != nil {
		return fmt.Errorf("watch progress: %w", err)
	}
	e.subs.Track(sub)
	go func() {
		for v := range sub.Updates() {
			progress := make(map[string]bool)
			if err := v.Decode(&progress); err != nil {
				e.log.Warn().Err(err).Msg("decode progress snapshot")
				continue
			}
			e.applyProgress(context.Background(), team, progress)
		}
	}()
	return nil
}

// applyProgress folds a pushed snapshot into session state, recomputes
// locks, and fires the inferred completion at most once per level. Safe
// under redelivery of the same snapshot.
func (e *Engine) applyProgress(ctx context.Context, team string, progress map[string]bool) {
	e.mu.Lock()
	if e.team != team {
		e.mu.Unlock()
		return
	}
	// Solved flags are monotonic; a stale or partial snapshot never
	// un-solves a question.
	for qid, done := range e.progress {
		if done {
			progress[qid] = true
		}
	}
	e.progress = progress

	states := UnlockStates(e.catalog, progress)
	finished, unlocked, completedNow := newlyCompleted(e.catalog, states, e.timer.Current(), e.completed)
	var completionEvent *Event
	if completedNow {
		e.completed[finished] = true
		e.timer.Stop()
		elapsed, saved, err := e.timer.SaveElapsed(ctx, finished)
		if err != nil {
			e.log.Error().Err(err).Int("level", finished).Msg("persist completed level time")
		}
		display := ""
		if saved {
			display = FormatElapsed(elapsed)
		}
		completionEvent = &Event{
			Type:    EventCompletion,
			Level:   finished,
			Display: display,
			Message: fmt.Sprintf("Level %d completed! Level %d is now unlocked.", finished, unlocked),
		}
	}

	snapshot := make(map[string]bool, len(progress))
	for qid, done := range progress {
		snapshot[qid] = done
	}
	e.mu.Unlock()

	if completionEvent != nil {
		e.emit(*completionEvent)
	}
	e.emit(Event{Type: EventProgress, Progress: snapshot})
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ev:
		default:
		}
	}
}
