package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"escape-room-service/internal/store"
)

// Timer tracks per-level elapsed wall-clock time for one team. At most
// one level is timed at a time; starting a new level persists the elapsed
// time of the one it replaces. Persisted durations are whole seconds at
// users/{team}/levelTimes/{level}.
type Timer struct {
	store  store.Store
	team   string
	clock  clockwork.Clock
	onTick func(level int, display string)

	mu        sync.Mutex
	level     int
	startedAt map[int]time.Time
	saved     map[int]int
	stopTick  chan struct{}
}

// NewTimer builds a timer for a team. onTick, if set, receives a display
// update every second while a level is running.
func NewTimer(st store.Store, team string, clock clockwork.Clock, onTick func(level int, display string)) *Timer {
	return &Timer{
		store:     st,
		team:      team,
		clock:     clock,
		onTick:    onTick,
		startedAt: make(map[int]time.Time),
		saved:     make(map[int]int),
	}
}

// Start begins timing a level. A different running level is stopped
// first, its elapsed time persisted before the switch. Starting the level
// already running is a no-op.
func (t *Timer) Start(ctx context.Context, level int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.level == level && t.stopTick != nil {
		return nil
	}
	t.stopTickingLocked()

	var saveErr error
	if t.level != 0 && t.level != level {
		_, _, saveErr = t.saveLocked(ctx, t.level)
	}

	t.level = level
	t.startedAt[level] = t.clock.Now()

	stop := make(chan struct{})
	t.stopTick = stop
	go t.tickLoop(level, stop)
	return saveErr
}

// Stop halts the recurring tick. It does not persist; that is the
// caller's job on completion or manual stop-and-save.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTickingLocked()
}

// Current is the level being timed, or zero.
func (t *Timer) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopTick == nil {
		return 0
	}
	return t.level
}

// LastTimed is the most recently timed level, whether or not it is still
// running. Stays set after Stop so a finished level is not timed twice.
func (t *Timer) LastTimed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Elapsed is the running duration for a level, or its previously
// persisted duration when not running. ok is false when neither exists.
func (t *Timer) Elapsed(level int) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.level == level && t.stopTick != nil {
		if startedAt, ok := t.startedAt[level]; ok {
			return t.clock.Since(startedAt), true
		}
	}
	if secs, ok := t.saved[level]; ok {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// Display is the running level's MM:SS readout, or "" when idle.
func (t *Timer) Display() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopTick == nil || t.level == 0 {
		return ""
	}
	startedAt, ok := t.startedAt[t.level]
	if !ok {
		return ""
	}
	return FormatElapsed(t.clock.Since(startedAt))
}

// SaveElapsed persists the level's elapsed time in whole seconds. When no
// start timestamp exists for the level (page reload mid-level), nothing
// is written and ok is false; the attribution is lost rather than
// guessed.
func (t *Timer) SaveElapsed(ctx context.Context, level int) (time.Duration, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked(ctx, level)
}

// LevelTimes is a copy of the persisted durations known this session,
// keyed by level, in whole seconds.
func (t *Timer) LevelTimes() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]int, len(t.saved))
	for level, secs := range t.saved {
		out[level] = secs
	}
	return out
}

// SeedSaved records durations loaded from the store at session start.
func (t *Timer) SeedSaved(times map[int]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for level, secs := range times {
		t.saved[level] = secs
	}
}

func (t *Timer) saveLocked(ctx context.Context, level int) (time.Duration, bool, error) {
	startedAt, ok := t.startedAt[level]
	if !ok {
		return 0, false, nil
	}
	elapsed := t.clock.Since(startedAt)
	secs := int(elapsed.Milliseconds() / 1000)
	t.saved[level] = secs
	if err := t.store.Set(ctx, store.LevelTimePath(t.team, level), secs); err != nil {
		return elapsed, true, fmt.Errorf("save level %d time: %w", level, err)
	}
	return elapsed, true, nil
}

func (t *Timer) stopTickingLocked() {
	if t.stopTick != nil {
		close(t.stopTick)
		t.stopTick = nil
	}
}

func (t *Timer) tickLoop(level int, stop chan struct{}) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.mu.Lock()
			startedAt, ok := t.startedAt[level]
			running := t.level == level && t.stopTick == stop
			now := t.clock.Now()
			t.mu.Unlock()
			if !ok || !running {
				return
			}
			if t.onTick != nil {
				t.onTick(level, FormatElapsed(now.Sub(startedAt)))
			}
		}
	}
}

// FormatElapsed renders a duration as zero-padded MM:SS using integer
// division: minutes = floor(ms/60000), seconds = floor((ms mod 60000)/1000).
func FormatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d", ms/60000, (ms%60000)/1000)
}
