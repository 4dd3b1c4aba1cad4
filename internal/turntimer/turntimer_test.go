package turntimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelstake/match-server/internal/engine"
)

func TestBudgetsPerGame(t *testing.T) {
	slack := 500 * time.Millisecond
	cases := []struct {
		game engine.GameType
		want time.Duration
	}{
		{engine.Dominoes, 15*time.Second + slack},
		{engine.Mancala, 20*time.Second + slack},
		{engine.Checkers, 30*time.Second + slack},
		{engine.Morpion, 30*time.Second + slack},
		{engine.Chess, 60*time.Second + slack},
	}
	for _, tc := range cases {
		got, ok := Budget(tc.game, slack)
		require.True(t, ok, "%s has a turn timer", tc.game)
		assert.Equal(t, tc.want, got)
	}
}

func TestTicTacToeHasNoTimer(t *testing.T) {
	_, ok := Budget(engine.TicTacToe, 500*time.Millisecond)
	assert.False(t, ok)
}

func TestArmFires(t *testing.T) {
	fired := make(chan struct{})
	h := Arm(10*time.Millisecond, func() { close(fired) })
	defer h.Cancel()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	h := Arm(30*time.Millisecond, func() { fired <- struct{}{} })
	h.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelIdempotentAndNilSafe(t *testing.T) {
	var nilHandle *Handle
	nilHandle.Cancel()

	h := Arm(time.Hour, func() {})
	h.Cancel()
	h.Cancel()
}
