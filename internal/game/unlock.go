package game

import "escape-room-service/internal/domain"

// SolvedInLevel counts the level's questions marked solved in progress.
func SolvedInLevel(cat domain.Catalog, progress map[string]bool, level int) int {
	n := 0
	for _, q := range cat.Levels[level] {
		if progress[q.ID] {
			n++
		}
	}
	return n
}

// Unlocked reports whether a level is open. A level with no rule is
// always unlocked; otherwise it unlocks once the required level has at
// least the required number of solved questions. Pure function of the
// progress map and the rule set.
func Unlocked(cat domain.Catalog, progress map[string]bool, level int) bool {
	rule, ok := cat.UnlockRules[level]
	if !ok {
		return true
	}
	return SolvedInLevel(cat, progress, rule.RequireLevel) >= rule.RequireCount
}

// UnlockStates computes the unlocked flag for every level in the catalog.
func UnlockStates(cat domain.Catalog, progress map[string]bool) map[int]bool {
	states := make(map[int]bool, len(cat.Levels))
	for level := range cat.Levels {
		states[level] = Unlocked(cat, progress, level)
	}
	return states
}

// newlyCompleted returns the level that just finished, if any. Completion
// is inferred, not stored: level K is complete the moment a downstream
// level's unlock condition becomes true while K is the currently-timed
// level. A level no rule references never completes through this path;
// that coupling to the rule shape is deliberate and kept from the
// original behavior.
func newlyCompleted(cat domain.Catalog, states map[int]bool, timedLevel int, completed map[int]bool) (int, int, bool) {
	if timedLevel == 0 || completed[timedLevel] {
		return 0, 0, false
	}
	for level, rule := range cat.UnlockRules {
		if rule.RequireLevel == timedLevel && states[level] {
			return timedLevel, level, true
		}
	}
	return 0, 0, false
}
