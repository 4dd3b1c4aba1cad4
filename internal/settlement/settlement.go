// Package settlement is the E component: a one-shot routine triggered on any
// terminal room transition that computes payouts and asks the payment
// oracle to transfer them. Grounded on the teacher's Game.Stop/
// broadcastState(true) terminal path (service/game.go) — close out once,
// send once — generalised to also call out to internal/oracle, archive a
// receipt via internal/audit, and fan a settlement event out via
// internal/events.
package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/engine"
	"github.com/duelstake/match-server/internal/events"
	"github.com/duelstake/match-server/internal/oracle"
	"github.com/duelstake/match-server/internal/room"
)

// houseFeeRate is the fixed 10% house cut from spec §4.5.
const houseFeeRate = 0.10

// Receipt is the audit record published for every settlement, independent of
// whether the outbound transfer itself succeeded.
type Receipt struct {
	RoomID       string    `json:"roomId"`
	GameType     string    `json:"gameType"`
	Stake        float64   `json:"stake"`
	SettledAt    time.Time `json:"settledAt"`
	Winner       *int      `json:"winner"`
	IsDraw       bool      `json:"isDraw"`
	Reason       string    `json:"reason"`
	Payout       float64   `json:"payout"`
	HouseCut     float64   `json:"houseCut"`
	WinnerRef    string    `json:"winnerTransferRef,omitempty"`
	HouseRef     string    `json:"houseTransferRef,omitempty"`
	RefundRefs   []string  `json:"refundTransferRefs,omitempty"`
	TransferErr  string    `json:"transferError,omitempty"`
}

// ReceiptArchiver is the narrow surface internal/audit satisfies. It takes
// `any` rather than Receipt so the leaf audit package never needs to import
// this package.
type ReceiptArchiver interface {
	Archive(ctx context.Context, receipt any)
}

// EventPublisher is the narrow surface internal/events satisfies.
type EventPublisher interface {
	PublishSettled(ctx context.Context, evt events.SettledEvent)
}

// Settlement implements room.Settler.
type Settlement struct {
	oracle       oracle.Oracle
	houseAccount string
	archiver     ReceiptArchiver
	publisher    EventPublisher
	log          *zap.Logger
	timeout      time.Duration
}

// New constructs the settlement routine. archiver/publisher may be nil,
// which makes both best-effort steps no-ops — used in test mode where no
// S3/RabbitMQ endpoint is configured.
func New(o oracle.Oracle, houseAccount string, archiver ReceiptArchiver, publisher EventPublisher, log *zap.Logger) *Settlement {
	return &Settlement{
		oracle:       o,
		houseAccount: houseAccount,
		archiver:     archiver,
		publisher:    publisher,
		log:          log,
		timeout:      5 * time.Second,
	}
}

// Settle implements room.Settler. Per I4 this must be called at most once
// per room — the room actor's single-threaded mailbox loop guarantees that
// by construction, since finish() is the only caller and a room only
// transitions to StateFinished once.
func (s *Settlement) Settle(ctx context.Context, roomID string, gameType engine.GameType, stake float64, seats [2]room.Seat, outcome room.Outcome) room.Settled {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt := Receipt{
		RoomID:    roomID,
		GameType:  string(gameType),
		Stake:     stake,
		SettledAt: time.Now().UTC(),
		IsDraw:    outcome.IsDraw,
		Reason:    outcome.Reason,
	}

	var settled room.Settled
	if outcome.Winner == nil {
		settled = s.refund(ctx, seats, &receipt)
	} else {
		settled = s.payout(ctx, seats, int(*outcome.Winner), outcome.Reason, &receipt)
	}

	if s.archiver != nil {
		s.archiver.Archive(ctx, receipt)
	}
	if s.publisher != nil {
		s.publisher.PublishSettled(ctx, events.SettledEvent{
			RoomID:   roomID,
			GameType: string(gameType),
			Stake:    stake,
			Winner:   receipt.Winner,
			IsDraw:   receipt.IsDraw,
			Payout:   receipt.Payout,
		})
	}
	return settled
}

// payout computes pot/houseCut/payout per spec §4.5 and asks the oracle to
// move funds to the winner and the house account. Transfer failures are
// logged only and never reverse the finished room state (spec §4.5, §7).
func (s *Settlement) payout(ctx context.Context, seats [2]room.Seat, winnerIdx int, reason string, receipt *Receipt) room.Settled {
	pot := 2 * receipt.Stake
	houseCut := pot * houseFeeRate
	payout := pot - houseCut
	receipt.Winner = &winnerIdx
	receipt.Payout = payout
	receipt.HouseCut = houseCut

	winner := seats[winnerIdx]

	winnerRef, err := s.oracle.SendOutbound(ctx, winner.Account, payout)
	if err != nil {
		s.log.Warn("settlement: outbound payout failed",
			zap.String("roomID", receipt.RoomID), zap.String("account", winner.Account), zap.Error(err))
		receipt.TransferErr = err.Error()
	} else {
		receipt.WinnerRef = winnerRef.Ref
	}

	if s.houseAccount != "" {
		houseRef, err := s.oracle.SendOutbound(ctx, s.houseAccount, houseCut)
		if err != nil {
			s.log.Warn("settlement: house fee transfer failed",
				zap.String("roomID", receipt.RoomID), zap.Error(err))
		} else {
			receipt.HouseRef = houseRef.Ref
		}
	}

	return room.Settled{
		Winner:       &winnerIdx,
		WinnerName:   winner.DisplayName,
		WinnerWallet: winner.Account,
		Payout:       payout,
		Resigned:     reason == "resigned",
		Reason:       reasonMessage(reason, winner.DisplayName),
	}
}

// refund returns each seat its stake, for a draw. A pre-match cancel is
// refunded through RefundEntry instead.
func (s *Settlement) refund(ctx context.Context, seats [2]room.Seat, receipt *Receipt) room.Settled {
	for _, seat := range seats {
		if seat.Account == "" {
			continue
		}
		ref, err := s.oracle.SendOutbound(ctx, seat.Account, receipt.Stake)
		if err != nil {
			s.log.Warn("settlement: refund failed",
				zap.String("roomID", receipt.RoomID), zap.String("account", seat.Account), zap.Error(err))
			receipt.TransferErr = err.Error()
			continue
		}
		receipt.RefundRefs = append(receipt.RefundRefs, ref.Ref)
	}
	return room.Settled{IsDraw: true}
}

func reasonMessage(reason, winnerName string) string {
	switch reason {
	case "disconnected":
		return "Opponent disconnected"
	case "resigned":
		return "Opponent resigned"
	default:
		return fmt.Sprintf("%s wins", winnerName)
	}
}

// RefundEntry is called directly (outside a room's lifecycle) by the session
// layer for a pre-match cancel/disconnect-while-queued, per spec §4.4(a).
// It shares the oracle and archival dependencies with Settle but has no
// room, winner, or game type to report.
func (s *Settlement) RefundEntry(ctx context.Context, account string, amount float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.oracle.SendOutbound(ctx, account, amount)
	if err != nil {
		s.log.Warn("settlement: queue-entry refund failed", zap.String("account", account), zap.Error(err))
	}
	return err
}
