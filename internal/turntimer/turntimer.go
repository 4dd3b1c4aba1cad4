// Package turntimer is the T component: a per-room single-shot timer with a
// strict cancel-then-rearm discipline. It does not own any room state —
// the room actor is the only thing that ever calls Arm/Cancel, and it does
// so from inside its own mailbox loop, so the "at most one live timer per
// room" invariant (P6) falls out of the actor never running two mailbox
// iterations concurrently rather than anything in this package.
package turntimer

import (
	"time"

	"github.com/duelstake/match-server/internal/engine"
)

// Budgets is the per-game nominal turn budget from spec §4.3. Tic-tac-toe
// has no timer at all.
var Budgets = map[engine.GameType]time.Duration{
	engine.Dominoes: 15 * time.Second,
	engine.Mancala:  20 * time.Second,
	engine.Checkers: 30 * time.Second,
	engine.Morpion:  30 * time.Second,
	engine.Chess:    60 * time.Second,
}

// Budget returns the nominal per-turn deadline for gameType plus slack, and
// ok=false when the game has no timer (tic-tac-toe).
func Budget(gameType engine.GameType, slack time.Duration) (time.Duration, bool) {
	nominal, ok := Budgets[gameType]
	if !ok {
		return 0, false
	}
	return nominal + slack, true
}

// Handle is the scalar timer handle a room holds: at most one live at a
// time, nil when none is armed.
type Handle struct {
	timer *time.Timer
}

// Arm schedules fn to run after d and returns the new handle. The caller
// must have already cancelled any prior handle — Arm does not do that
// itself, keeping the cancel-then-arm ordering explicit at every call site
// per spec §5's "strict discipline".
func Arm(d time.Duration, fn func()) *Handle {
	return &Handle{timer: time.AfterFunc(d, fn)}
}

// Cancel stops h's underlying timer, if any. Safe to call on a nil handle
// or one that has already fired; cancellation is idempotent per spec §5.
func (h *Handle) Cancel() {
	if h == nil || h.timer == nil {
		return
	}
	h.timer.Stop()
}
