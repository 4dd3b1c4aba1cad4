// Package room is the R component: it owns live Rooms. Each room runs as a
// single actor goroutine whose mailbox serialises {apply, timer-fire,
// disconnect, teardown} exactly as spec.md §5 and §9 require — "never share
// the timer handle outside the actor". This generalises the teacher's
// service/game.go Game.Start/handleAction/broadcastState select loop from one
// hardcoded maze game to any engine.Engine implementation, and replaces its
// single whole-game deadline with turntimer's per-turn cancel-then-rearm
// timer.
package room

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/engine"
	"github.com/duelstake/match-server/internal/turntimer"
)

// State is a room's lifecycle state (spec.md §3 — "waiting" is never
// reached in the unified design; the matchmaker promotes straight to
// playing).
type State int

const (
	StatePlaying State = iota
	StateFinished
)

// Seat is one bound player: the session id the room knows it by, plus the
// identity info it needs for broadcasts and settlement.
type Seat struct {
	SessionID   string
	Account     string
	DisplayName string
}

// Outcome summarises a room's terminal transition for the settlement
// component: the winner seat (nil for a draw), and whether the game ended by
// resignation or disconnect rather than the normal rules.
type Outcome struct {
	Winner     *engine.Seat
	Reason     string // "", "resigned", "disconnected"
	IsDraw     bool
}

// EventSink is how a room reports back to the session manager: broadcasts to
// a single seat, and the one-shot terminal notification. The session layer
// turns these into wire messages; the room package has no transport
// dependency, matching the teacher's channel-based GameServer/GameServer
// consumer split (service/i/game_server.go).
type EventSink interface {
	// SendState delivers a per-seat game_state view.
	SendState(roomID string, seat engine.Seat, view any)
	// SendGameOver delivers the terminal game_over payload to the whole room.
	SendGameOver(roomID string, outcome Settled)
	// SendRejection delivers an engine rejection to the originating seat only.
	SendRejection(roomID string, seat engine.Seat, kind string)
}

// Settler runs the one-shot settlement computation for a finished room. The
// room package depends on this narrow interface rather than the concrete
// internal/settlement package to keep the dependency direction leaves-first.
type Settler interface {
	Settle(ctx context.Context, roomID string, gameType engine.GameType, stake float64, seats [2]Seat, outcome Outcome) Settled
}

// Settled is the payout/refund result the settlement component hands back,
// re-exported here so EventSink implementations don't need to import
// internal/settlement.
type Settled struct {
	Winner       *int // seat index, nil for draw
	WinnerName   string
	WinnerWallet string
	Payout       float64
	IsDraw       bool
	Resigned     bool
	Reason       string
}

type mailKind int

const (
	mailApply mailKind = iota
	mailTimerFire
	mailDisconnect
	mailTeardown
	mailView
)

type mailMsg struct {
	kind   mailKind
	seat   engine.Seat
	action engine.Action
	gen    uint64 // mailTimerFire only: the arming generation
	done   chan struct{}
	result chan any // mailView only
}

// Room is one live match: its engine instance, its two seats, its lifecycle
// state, and — while playing — its single outstanding turn timer. All
// mutation happens inside run(), the mailbox loop, so nothing outside this
// file needs a mutex (I2, P6).
type Room struct {
	ID       string
	GameType engine.GameType
	Stake    float64

	seats  [2]Seat
	engine engine.Engine
	state  State

	deadlineAt time.Time
	timer      *turntimer.Handle
	timerGen   uint64 // bumped on every arm; stale fires are dropped

	mailbox  chan mailMsg
	teardown chan struct{}

	sink    EventSink
	settler Settler
	log     *zap.Logger

	teardownGrace      time.Duration
	disconnectGrace    time.Duration
	turnSlack          time.Duration
}

// Config bundles the dependencies a Room needs at construction. teardownGrace
// is the ≈5s window after a normal finish; disconnectGrace is the shorter
// ≈3s window after a disconnect loss (spec.md §4.4).
type Config struct {
	Sink            EventSink
	Settler         Settler
	Log             *zap.Logger
	TeardownGrace   time.Duration
	DisconnectGrace time.Duration
	TurnSlack       time.Duration
}

// New constructs and starts a Room's actor goroutine for two already-paired
// seats. gridSize only matters for tic-tac-toe; it is ignored otherwise.
func New(cfg Config, gameType engine.GameType, stake float64, gridSize int, seatA, seatB Seat) (*Room, error) {
	eng, err := engine.New(gameType, engine.Options{GridSize: gridSize}, rand.Float64)
	if err != nil {
		return nil, fmt.Errorf("room: %w", err)
	}
	r := &Room{
		ID:              uuid.NewString()[:8],
		GameType:        gameType,
		Stake:           stake,
		seats:           [2]Seat{seatA, seatB},
		engine:          eng,
		state:           StatePlaying,
		mailbox:         make(chan mailMsg, 8),
		teardown:        make(chan struct{}),
		sink:            cfg.Sink,
		settler:         cfg.Settler,
		log:             cfg.Log,
		teardownGrace:   cfg.TeardownGrace,
		disconnectGrace: cfg.DisconnectGrace,
		turnSlack:       cfg.TurnSlack,
	}
	go r.run()
	return r, nil
}

// SeatIndexFor returns the seat bound to sessionID, if any.
func (r *Room) SeatIndexFor(sessionID string) (engine.Seat, bool) {
	for i, s := range r.seats {
		if s.SessionID == sessionID {
			return engine.Seat(i), true
		}
	}
	return 0, false
}

// Seats returns the two bound identities, for game_start broadcasts.
func (r *Room) Seats() [2]Seat { return r.seats }

// Apply enqueues a real move from seat and blocks until the room's actor has
// processed it — the caller (session layer) does not need to know whether
// the result is a rejection (delivered via EventSink) or a state change.
func (r *Room) Apply(seat engine.Seat, action engine.Action) {
	done := make(chan struct{})
	select {
	case r.mailbox <- mailMsg{kind: mailApply, seat: seat, action: action, done: done}:
		select {
		case <-done:
		case <-r.teardown:
		}
	case <-r.teardown:
	}
}

// Disconnect enqueues a disconnect notification for the given seat.
func (r *Room) Disconnect(seat engine.Seat) {
	done := make(chan struct{})
	select {
	case r.mailbox <- mailMsg{kind: mailDisconnect, seat: seat, done: done}:
		select {
		case <-done:
		case <-r.teardown:
		}
	case <-r.teardown:
	}
}

// View returns seat's current public projection of the engine state,
// fetched through the mailbox so it never races the actor's own mutations.
func (r *Room) View(seat engine.Seat) any {
	result := make(chan any, 1)
	select {
	case r.mailbox <- mailMsg{kind: mailView, seat: seat, result: result}:
		select {
		case v := <-result:
			return v
		case <-r.teardown:
			return nil
		}
	case <-r.teardown:
		return nil
	}
}

// run is the actor loop. The room stays live through the post-finish grace
// window (late moves get a game-over rejection, late views still answer) and
// exits only on the self-scheduled teardown message.
func (r *Room) run() {
	defer close(r.teardown)
	r.arm()
	for msg := range r.mailbox {
		switch msg.kind {
		case mailApply:
			r.handleApply(msg.seat, msg.action)
		case mailTimerFire:
			r.handleTimerFire(msg.gen)
		case mailDisconnect:
			r.handleDisconnect(msg.seat)
		case mailView:
			msg.result <- r.engine.View(msg.seat)
		case mailTeardown:
			r.cancelTimer()
			close(msg.done)
			return
		}
		if msg.done != nil {
			close(msg.done)
		}
	}
}

// cancelTimer stops the current timer, per the "cancel before every mutation
// that could change currentSeat or terminate the game" discipline (spec §4.3).
func (r *Room) cancelTimer() {
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
}

// arm schedules a fresh timer if and only if the room is still playing, the
// game has a timer budget, and the game is not over (tic-tac-toe has no
// timer at all).
func (r *Room) arm() {
	if r.state != StatePlaying || r.engine.IsOver() {
		return
	}
	budget, ok := turntimer.Budget(r.GameType, r.turnSlack)
	if !ok {
		return
	}
	if r.GameType == engine.Dominoes && r.engine.IsRoundOver() {
		// roundOver suppresses the timer until next_round (spec §4.3).
		return
	}
	r.timerGen++
	gen := r.timerGen
	r.deadlineAt = time.Now().Add(budget)
	r.timer = turntimer.Arm(budget, func() {
		select {
		case r.mailbox <- mailMsg{kind: mailTimerFire, gen: gen}:
		case <-r.teardown:
		}
	})
}

func (r *Room) handleApply(seat engine.Seat, action engine.Action) {
	if r.state != StatePlaying {
		r.sink.SendRejection(r.ID, seat, engine.KindGameOver)
		return
	}
	outcome := r.engine.Apply(seat, action)
	if !outcome.Applied {
		// The timer stays untouched on a rejection: the seat's deadline
		// does not reset just because it sent an illegal move.
		if outcome.Err != nil {
			r.sink.SendRejection(r.ID, seat, outcome.Err.Kind)
		}
		return
	}
	r.cancelTimer()
	reason := ""
	if resign, _ := action["resign"].(bool); resign && outcome.GameOver {
		reason = "resigned"
	}
	r.afterApply(outcome, reason)
}

// handleTimerFire is the lost-race guard from spec §4.3: reconfirm the room
// is still playing and the game isn't over before asking for a fallback. A
// fire whose generation no longer matches lost the race against a real move
// that already cancelled and re-armed; it is dropped.
func (r *Room) handleTimerFire(gen uint64) {
	if gen != r.timerGen {
		return
	}
	if r.state != StatePlaying || r.engine.IsOver() {
		return
	}
	seat := r.engine.CurrentSeat()
	action, ok := r.engine.AutoFallback(seat)
	if !ok {
		// No legal move at all for this seat; leave state untouched and let
		// the normal move flow (or another fallback path) produce a
		// terminal outcome. Re-arm so we don't leave the room timerless.
		r.arm()
		return
	}
	outcome := r.engine.Apply(seat, action)
	if !outcome.Applied {
		r.log.Warn("room: auto-fallback move rejected",
			zap.String("roomID", r.ID), zap.Int("seat", int(seat)))
		r.arm()
		return
	}
	r.afterApply(outcome, "")
}

// afterApply runs the post-apply half of the §4.3 move pipeline for an
// accepted move: broadcast per-seat views, then either settle or re-arm.
func (r *Room) afterApply(outcome engine.Outcome, reason string) {
	for i := range r.seats {
		r.sink.SendState(r.ID, engine.Seat(i), r.engine.View(engine.Seat(i)))
	}

	if outcome.GameOver {
		r.finish(Outcome{Winner: outcome.Winner, Reason: reason, IsDraw: outcome.Winner == nil})
		return
	}
	r.arm()
}

// handleDisconnect treats a mid-game drop as a loss for the dropped seat
// (spec §4.4(b)): the other seat wins.
func (r *Room) handleDisconnect(seat engine.Seat) {
	if r.state != StatePlaying {
		return
	}
	winner := seat.Other()
	r.cancelTimer()
	r.finish(Outcome{Winner: &winner, Reason: "disconnected"})
}

func (r *Room) finish(outcome Outcome) {
	r.cancelTimer()
	r.state = StateFinished
	settled := r.settler.Settle(context.Background(), r.ID, r.GameType, r.Stake, r.seats, outcome)
	r.sink.SendGameOver(r.ID, settled)
	time.AfterFunc(r.graceFor(outcome), func() {
		done := make(chan struct{})
		select {
		case r.mailbox <- mailMsg{kind: mailTeardown, done: done}:
			select {
			case <-done:
			case <-r.teardown:
			}
		case <-r.teardown:
		}
	})
}

func (r *Room) graceFor(outcome Outcome) time.Duration {
	if outcome.Reason == "disconnected" {
		return r.disconnectGrace
	}
	return r.teardownGrace
}
