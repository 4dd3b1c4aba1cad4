package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/engine"
	"github.com/duelstake/match-server/internal/turntimer"
)

type stateEvent struct {
	seat engine.Seat
	view any
}

type rejectionEvent struct {
	seat engine.Seat
	kind string
}

// fakeSink records everything a room emits, for assertions.
type fakeSink struct {
	mu         sync.Mutex
	states     []stateEvent
	rejections []rejectionEvent
	gameOvers  []Settled
}

func (f *fakeSink) SendState(_ string, seat engine.Seat, view any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{seat, view})
}

func (f *fakeSink) SendRejection(_ string, seat engine.Seat, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, rejectionEvent{seat, kind})
}

func (f *fakeSink) SendGameOver(_ string, settled Settled) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameOvers = append(f.gameOvers, settled)
}

func (f *fakeSink) stateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func (f *fakeSink) gameOverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gameOvers)
}

func (f *fakeSink) lastRejection() (rejectionEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rejections) == 0 {
		return rejectionEvent{}, false
	}
	return f.rejections[len(f.rejections)-1], true
}

// fakeSettler counts settlements (P5) and records the outcome it saw.
type fakeSettler struct {
	mu       sync.Mutex
	calls    int
	outcomes []Outcome
}

func (f *fakeSettler) Settle(_ context.Context, _ string, _ engine.GameType, stake float64, seats [2]Seat, outcome Outcome) Settled {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.outcomes = append(f.outcomes, outcome)
	settled := Settled{IsDraw: outcome.Winner == nil, Payout: 1.8 * stake, Reason: outcome.Reason}
	if outcome.Winner != nil {
		idx := int(*outcome.Winner)
		settled.Winner = &idx
		settled.WinnerName = seats[idx].DisplayName
		settled.WinnerWallet = seats[idx].Account
	}
	return settled
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig(sink EventSink, settler Settler) Config {
	return Config{
		Sink:            sink,
		Settler:         settler,
		Log:             zap.NewNop(),
		TeardownGrace:   200 * time.Millisecond,
		DisconnectGrace: 100 * time.Millisecond,
		TurnSlack:       0,
	}
}

func seatPair() (Seat, Seat) {
	return Seat{SessionID: "conn0", Account: "wallet0", DisplayName: "alice"},
		Seat{SessionID: "conn1", Account: "wallet1", DisplayName: "bob"}
}

func currentSeatOf(t *testing.T, r *Room) engine.Seat {
	t.Helper()
	view, ok := r.View(engine.SeatZero).(map[string]any)
	require.True(t, ok)
	return engine.Seat(view["currentPlayer"].(int))
}

func TestRoomMovePipelineBroadcastsBothSeats(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	mover := currentSeatOf(t, r)
	r.Apply(mover, engine.Action{"cell": 0})

	assert.Equal(t, 2, sink.stateCount(), "one view per seat")
	_, rejected := sink.lastRejection()
	assert.False(t, rejected)
}

func TestRoomRejectionGoesToMoverOnly(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	waiting := currentSeatOf(t, r).Other()
	r.Apply(waiting, engine.Action{"cell": 0})

	assert.Equal(t, 0, sink.stateCount(), "rejected moves broadcast nothing")
	rej, ok := sink.lastRejection()
	require.True(t, ok)
	assert.Equal(t, waiting, rej.seat)
	assert.Equal(t, engine.KindNotYourTurn, rej.kind)
}

func TestRoomSeatLookup(t *testing.T) {
	sink := &fakeSink{}
	a, b := seatPair()
	r, err := New(testConfig(sink, &fakeSettler{}), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	seat, ok := r.SeatIndexFor("conn0")
	require.True(t, ok)
	assert.Equal(t, engine.SeatZero, seat)
	seat, ok = r.SeatIndexFor("conn1")
	require.True(t, ok)
	assert.Equal(t, engine.SeatOne, seat)
	_, ok = r.SeatIndexFor("stranger")
	assert.False(t, ok)
}

func playTicTacToeWin(t *testing.T, r *Room) engine.Seat {
	t.Helper()
	starter := currentSeatOf(t, r)
	other := starter.Other()
	r.Apply(starter, engine.Action{"cell": 0})
	r.Apply(other, engine.Action{"cell": 3})
	r.Apply(starter, engine.Action{"cell": 1})
	r.Apply(other, engine.Action{"cell": 4})
	r.Apply(starter, engine.Action{"cell": 2})
	return starter
}

func TestRoomTerminalMoveSettlesOnce(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	winner := playTicTacToeWin(t, r)

	assert.Equal(t, 1, settler.callCount())
	require.Equal(t, 1, sink.gameOverCount())
	settled := sink.gameOvers[0]
	require.NotNil(t, settled.Winner)
	assert.Equal(t, int(winner), *settled.Winner)
	assert.Equal(t, 18.0, settled.Payout)
}

func TestRoomRejectsMovesAfterFinish(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	loser := playTicTacToeWin(t, r).Other()
	r.Apply(loser, engine.Action{"cell": 5})

	rej, ok := sink.lastRejection()
	require.True(t, ok)
	assert.Equal(t, engine.KindGameOver, rej.kind)
	assert.Equal(t, 1, settler.callCount(), "no second settlement")
}

func TestRoomDisconnectAwardsOtherSeat(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	r.Disconnect(engine.SeatZero)

	require.Equal(t, 1, settler.callCount())
	outcome := settler.outcomes[0]
	require.NotNil(t, outcome.Winner)
	assert.Equal(t, engine.SeatOne, *outcome.Winner)
	assert.Equal(t, "disconnected", outcome.Reason)
	assert.Equal(t, 1, sink.gameOverCount())
}

func TestRoomDoubleDisconnectSettlesOnce(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	r.Disconnect(engine.SeatZero)
	r.Disconnect(engine.SeatOne)

	assert.Equal(t, 1, settler.callCount())
	assert.Equal(t, 1, sink.gameOverCount())
}

func TestRoomTurnTimeoutPlaysFallback(t *testing.T) {
	prev := turntimer.Budgets[engine.Mancala]
	turntimer.Budgets[engine.Mancala] = 30 * time.Millisecond
	defer func() { turntimer.Budgets[engine.Mancala] = prev }()

	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	_, err := New(testConfig(sink, settler), engine.Mancala, 10, 0, a, b)
	require.NoError(t, err)

	// Nobody moves; the scheduler must inject a fallback and broadcast it.
	require.Eventually(t, func() bool { return sink.stateCount() >= 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestRoomTeardownAfterGrace(t *testing.T) {
	sink := &fakeSink{}
	settler := &fakeSettler{}
	a, b := seatPair()
	r, err := New(testConfig(sink, settler), engine.TicTacToe, 10, 3, a, b)
	require.NoError(t, err)

	r.Disconnect(engine.SeatZero)

	select {
	case <-r.teardown:
	case <-time.After(2 * time.Second):
		t.Fatal("room actor did not tear down after the grace window")
	}

	// Post-teardown calls are safe no-ops.
	r.Apply(engine.SeatOne, engine.Action{"cell": 0})
	assert.Nil(t, r.View(engine.SeatOne))
}

func TestRoomViewIsPerSeat(t *testing.T) {
	sink := &fakeSink{}
	a, b := seatPair()
	r, err := New(testConfig(sink, &fakeSettler{}), engine.Dominoes, 10, 0, a, b)
	require.NoError(t, err)

	v0 := r.View(engine.SeatZero).(map[string]any)
	v1 := r.View(engine.SeatOne).(map[string]any)
	assert.Equal(t, 0, v0["yourSeat"])
	assert.Equal(t, 1, v1["yourSeat"])
}
