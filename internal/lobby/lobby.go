// Package lobby periodically snapshots the matchmaker's open bets and the
// room registry's active games into a lobby_update broadcast (spec.md §6),
// driven by a gocron job tick rather than recomputed per request only, so
// every connected idle client's lobby view refreshes automatically — the
// same shape as the teacher's Game.Start 2-second broadcast ticker
// (SPEC_FULL §12). Grounded on Musterbox-LLC-game-publish-system's
// services/scheduler.go gocron.NewJob(gocron.DurationJob(...)) pattern.
package lobby

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// WaitingEntry is one row of the lobby's waiting-players list.
type WaitingEntry struct {
	ID       string
	GameType string
	Stake    float64
	Username string
	Wallet   string
	GridSize int
}

// ActiveGame is one row of the lobby's active-games list.
type ActiveGame struct {
	GameType string
	Stake    float64
	Players  []string
}

// Snapshot is the payload broadcast as lobby_update.
type Snapshot struct {
	Waiting      []WaitingEntry
	ActiveGames  []ActiveGame
	OnlineCount  int
}

// Source supplies the data a snapshot is built from; the session manager
// implements it so this package stays decoupled from matchmaker/room
// concrete types.
type Source interface {
	LobbySnapshot() Snapshot
}

// Sink is how a snapshot reaches connected clients.
type Sink interface {
	BroadcastLobby(ctx context.Context, snap Snapshot)
}

// Broadcaster runs the periodic lobby_update tick.
type Broadcaster struct {
	source   Source
	sink     Sink
	interval time.Duration
	log      *zap.Logger
	sched    gocron.Scheduler
}

// New constructs a Broadcaster. Call Start to begin ticking and Stop to
// shut the scheduler down cleanly at process exit.
func New(source Source, sink Sink, interval time.Duration, log *zap.Logger) (*Broadcaster, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Broadcaster{source: source, sink: sink, interval: interval, log: log, sched: sched}, nil
}

// Start registers the tick job and begins the scheduler.
func (b *Broadcaster) Start() error {
	_, err := b.sched.NewJob(
		gocron.DurationJob(b.interval),
		gocron.NewTask(func() {
			snap := b.source.LobbySnapshot()
			b.sink.BroadcastLobby(context.Background(), snap)
		}),
	)
	if err != nil {
		return err
	}
	b.sched.Start()
	return nil
}

// Stop shuts the scheduler down. Errors are logged, not returned, matching
// the best-effort shutdown style of every other background loop in this
// repository.
func (b *Broadcaster) Stop() {
	if err := b.sched.Shutdown(); err != nil {
		b.log.Warn("lobby: scheduler shutdown failed", zap.Error(err))
	}
}
