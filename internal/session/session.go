// Package session is the S component: per-connection session state that
// fans connection events into Matchmaker/Room operations and fans Room
// emissions back out to connections (spec.md §2, §4.4). It also owns the
// Room Registry (R) — the map of live rooms — since a room outlives the
// connection that asked for it only briefly, for settlement/broadcast
// (spec.md §3 "Ownership"). Grounded on the teacher's
// service/game_session_manager.go: the playerToSession map, saveSession's
// generate-id/check-map/retry loop, listenGameChan's fan-out, and clean's
// teardown — generalised from one fixed maze game to the register/
// find_match/accept_bet/game_action/disconnect event set.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/width"

	"github.com/duelstake/match-server/internal/auth"
	"github.com/duelstake/match-server/internal/engine"
	"github.com/duelstake/match-server/internal/lobby"
	"github.com/duelstake/match-server/internal/matchmaker"
	"github.com/duelstake/match-server/internal/oracle"
	"github.com/duelstake/match-server/internal/room"
)

// Sentinel errors surfaced to the caller as error_msg (spec.md §7).
var (
	ErrBadAccount      = errors.New("bad-account")
	ErrBadBetAmount    = errors.New("bad-bet-amount")
	ErrMissingProof    = errors.New("missing-proof")
	ErrUnknownGameType = errors.New("unknown-game-type")
	ErrRegisterFirst   = errors.New("register-first")
	ErrNoRoom          = errors.New("no-room")
	ErrAlreadyInRoom   = errors.New("already-in-room")
)

// AccountValidator is the external validator spec.md §4.4's register event
// depends on. A production deployment would check this against the chain's
// address format or a KYC service; the core only calls it.
type AccountValidator func(account string) error

// DefaultAccountValidator rejects only the empty string, leaving format
// validation to a real implementation supplied at wiring time.
func DefaultAccountValidator(account string) error {
	if account == "" {
		return ErrBadAccount
	}
	return nil
}

// Outbound is how the Manager reaches a connection. The transport package
// implements it over a websocket; tests can fake it in-process.
type Outbound interface {
	// Send delivers one event to a single session, if still connected.
	Send(sessionID, event string, payload any)
	// Broadcast delivers one event to every connected session.
	Broadcast(event string, payload any)
}

// Config bundles the Manager's tunables (SPEC_FULL §10's grace/slack env
// fields).
type Config struct {
	EscrowAddress   string
	TestMode        bool
	TeardownGrace   time.Duration
	DisconnectGrace time.Duration
	TurnSlack       time.Duration
	Validator       AccountValidator
}

type sessionState struct {
	id          string
	account     string
	displayName string
	roomID      string // "" when not bound to a room (I1)
}

type roomBinding struct {
	rm    *room.Room
	stake float64
}

// Manager is the S component.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	rooms    map[string]*roomBinding

	mm       *matchmaker.Matchmaker
	oracle   oracle.Oracle
	settler  Settler
	issuer   *auth.Issuer
	out      Outbound
	log      *zap.Logger
	cfg      Config
}

// Settler is the full surface the Manager needs from internal/settlement:
// the room.Settler contract the Room actor calls on terminal transitions,
// plus the direct pre-match refund the Manager calls for a queued-entry
// cancel or disconnect (spec.md §4.4(a)).
type Settler interface {
	room.Settler
	RefundEntry(ctx context.Context, account string, amount float64) error
}

// New constructs a Manager.
func New(mm *matchmaker.Matchmaker, o oracle.Oracle, settler Settler, issuer *auth.Issuer, out Outbound, log *zap.Logger, cfg Config) *Manager {
	if cfg.Validator == nil {
		cfg.Validator = DefaultAccountValidator
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		rooms:    make(map[string]*roomBinding),
		mm:       mm,
		oracle:   o,
		settler:  settler,
		issuer:   issuer,
		out:      out,
		log:      log,
		cfg:      cfg,
	}
}

// SetOutbound wires the transport layer in after construction: the
// transport.Server needs a *Manager to dispatch into, and the Manager needs
// the transport.Server as its Outbound, so the two are built in two steps
// and connected here rather than via a circular constructor argument.
func (m *Manager) SetOutbound(out Outbound) { m.out = out }

// Connect creates a session with no identity, keyed by the transport-chosen
// connection id.
func (m *Manager) Connect(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &sessionState{id: sessionID}
}

// RegisteredPayload is the response to a register event.
type RegisteredPayload struct {
	Account       string `json:"account"`
	DisplayName   string `json:"displayName"`
	EscrowAddress string `json:"escrowAddress"`
	TestMode      bool   `json:"testMode"`
	Token         string `json:"token"`
}

// normalizeDisplayName folds full-width/half-width variants and trims so
// two visually-identical names don't collide oddly in the lobby listing
// (SPEC_FULL §12).
func normalizeDisplayName(raw string) string {
	return strings.TrimSpace(width.Fold.String(raw))
}

// Register implements the register event.
func (m *Manager) Register(sessionID, account, displayName string) error {
	if err := m.cfg.Validator(account); err != nil {
		return ErrBadAccount
	}
	name := normalizeDisplayName(displayName)
	if name == "" {
		name = account
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNoRoom
	}
	s.account = account
	s.displayName = name
	m.mu.Unlock()

	payload := RegisteredPayload{
		Account:       account,
		DisplayName:   name,
		EscrowAddress: m.cfg.EscrowAddress,
		TestMode:      m.cfg.TestMode,
	}
	if m.issuer != nil {
		if tok, _, err := m.issuer.Issue(account, name); err == nil {
			payload.Token = tok
		}
	}
	m.out.Send(sessionID, "registered", payload)
	return nil
}

// sessionIdentity snapshots a session's identity fields under the lock, so
// callers never read sessionState fields outside the critical section.
func (m *Manager) sessionIdentity(sessionID string) (account, displayName, roomID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, found := m.sessions[sessionID]
	if !found {
		return "", "", "", false
	}
	return s.account, s.displayName, s.roomID, true
}

// FindMatchRequest is the find_match event payload.
type FindMatchRequest struct {
	GameType  string
	BetAmount float64
	GridSize  int
	Proof     string
}

// FindMatch implements spec.md §4.4's find_match: verify the stake with the
// oracle, then ask the matchmaker to seek a pair; on a match, start the
// room, otherwise leave the seeker queued.
func (m *Manager) FindMatch(ctx context.Context, sessionID string, req FindMatchRequest) error {
	gameType, err := parseGameType(req.GameType)
	if err != nil {
		return ErrUnknownGameType
	}
	if req.BetAmount <= 0 {
		return ErrBadBetAmount
	}

	account, displayName, roomID, ok := m.sessionIdentity(sessionID)
	if !ok || account == "" {
		return ErrRegisterFirst
	}
	if roomID != "" {
		return ErrAlreadyInRoom
	}

	if !m.cfg.TestMode {
		if req.Proof == "" {
			return ErrMissingProof
		}
		if _, err := m.oracle.VerifyInbound(ctx, req.Proof, req.BetAmount); err != nil {
			return err
		}
	}

	key := matchmaker.Key{GameType: gameType, Stake: req.BetAmount, GridSize: req.GridSize}
	other, mine, matched := m.mm.Seek(sessionID, account, displayName, req.Proof, key)
	if !matched {
		m.out.Send(sessionID, "waiting", map[string]any{
			"msg":       "waiting for an opponent",
			"betAmount": req.BetAmount,
			"gameType":  req.GameType,
		})
		return nil
	}

	m.startRoom(gameType, req.BetAmount, req.GridSize, other, mine)
	return nil
}

// CancelSearch implements the cancel_search event.
func (m *Manager) CancelSearch(ctx context.Context, sessionID string) {
	entry := m.mm.Cancel(sessionID)
	if entry == nil {
		return
	}
	if !m.cfg.TestMode && entry.ProofRef != "" {
		_ = m.settler.RefundEntry(ctx, entry.Account, entry.Key.Stake)
	}
	m.out.Send(sessionID, "search_cancelled", map[string]any{})
}

// AcceptBet implements the accept_bet event.
func (m *Manager) AcceptBet(ctx context.Context, sessionID, openID, proof string) error {
	account, displayName, roomID, ok := m.sessionIdentity(sessionID)
	if !ok || account == "" {
		return ErrRegisterFirst
	}
	if roomID != "" {
		return ErrAlreadyInRoom
	}

	// Verify before Accept (spec §4.4): a bad proof must not destroy the
	// opener's entry. The stake to verify against comes from a lookup; the
	// Accept below still arbitrates the race authoritatively.
	open, err := m.mm.Lookup(openID)
	if err != nil {
		return err
	}
	if open.SessionID == sessionID {
		return matchmaker.ErrOwnBet
	}
	if !m.cfg.TestMode {
		if proof == "" {
			return ErrMissingProof
		}
		if _, err := m.oracle.VerifyInbound(ctx, proof, open.Key.Stake); err != nil {
			return err
		}
	}

	entry, err := m.mm.Accept(ctx, sessionID, openID)
	if err != nil {
		return err
	}

	accepter := &matchmaker.Entry{
		ID:          "",
		Key:         entry.Key,
		SessionID:   sessionID,
		Account:     account,
		DisplayName: displayName,
		ProofRef:    proof,
	}
	m.startRoom(entry.Key.GameType, entry.Key.Stake, entry.Key.GridSize, entry, accepter)
	return nil
}

// startRoom promotes a matched pair directly into a playing room (spec.md
// §4.3: "waiting" is no longer reachable in the unified design).
func (m *Manager) startRoom(gameType engine.GameType, stake float64, gridSize int, opener, accepter *matchmaker.Entry) {
	seatA := room.Seat{SessionID: opener.SessionID, Account: opener.Account, DisplayName: opener.DisplayName}
	seatB := room.Seat{SessionID: accepter.SessionID, Account: accepter.Account, DisplayName: accepter.DisplayName}

	rm, err := room.New(room.Config{
		Sink:            (*roomSink)(m),
		Settler:         m.settler,
		Log:             m.log,
		TeardownGrace:   m.cfg.TeardownGrace,
		DisconnectGrace: m.cfg.DisconnectGrace,
		TurnSlack:       m.cfg.TurnSlack,
	}, gameType, stake, gridSize, seatA, seatB)
	if err != nil {
		m.log.Error("session: room creation failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.rooms[rm.ID] = &roomBinding{rm: rm, stake: stake}
	for _, sid := range []string{opener.SessionID, accepter.SessionID} {
		if s, ok := m.sessions[sid]; ok {
			s.roomID = rm.ID
		}
	}
	m.mu.Unlock()

	players := []map[string]string{
		{"username": seatA.DisplayName, "wallet": seatA.Account},
		{"username": seatB.DisplayName, "wallet": seatB.Account},
	}
	sessionIDs := [2]string{opener.SessionID, accepter.SessionID}
	for idx, sid := range sessionIDs {
		m.out.Send(sid, "game_start", map[string]any{
			"roomId":      rm.ID,
			"gameType":    string(gameType),
			"betAmount":   stake,
			"playerIndex": idx,
			"players":     players,
		})
	}
	for idx, sid := range sessionIDs {
		m.out.Send(sid, "game_state", rm.View(engine.Seat(idx)))
	}
}

// GameAction implements the §4.3 move pipeline's step 1–2: resolve the
// seat, then hand the action to the room actor. The room's EventSink
// callbacks deliver everything downstream of that (broadcast, rejection,
// settlement).
func (m *Manager) GameAction(sessionID string, action engine.Action) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	var rb *roomBinding
	if ok && s.roomID != "" {
		rb = m.rooms[s.roomID]
	}
	m.mu.RUnlock()
	if !ok || rb == nil {
		return ErrNoRoom
	}
	seat, ok := rb.rm.SeatIndexFor(sessionID)
	if !ok {
		return ErrNoRoom
	}
	rb.rm.Apply(seat, action)
	return nil
}

// Disconnect implements spec.md §4.4's disconnect handling: refund a queued
// entry, or treat a mid-game drop as a loss for the dropped seat.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) {
	entry := m.mm.Cancel(sessionID)
	if entry != nil && !m.cfg.TestMode && entry.ProofRef != "" {
		_ = m.settler.RefundEntry(ctx, entry.Account, entry.Key.Stake)
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	var rb *roomBinding
	if ok && s.roomID != "" {
		rb = m.rooms[s.roomID]
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if rb == nil {
		return
	}
	seat, ok := rb.rm.SeatIndexFor(sessionID)
	if !ok {
		return
	}
	rb.rm.Disconnect(seat)
}

// LobbySnapshot implements lobby.Source.
func (m *Manager) LobbySnapshot() lobby.Snapshot {
	entries := m.mm.Snapshot()
	waiting := make([]lobby.WaitingEntry, 0, len(entries))
	for _, e := range entries {
		waiting = append(waiting, lobby.WaitingEntry{
			ID:       e.ID,
			GameType: string(e.Key.GameType),
			Stake:    e.Key.Stake,
			Username: e.DisplayName,
			Wallet:   e.Account,
			GridSize: e.Key.GridSize,
		})
	}

	m.mu.RLock()
	active := make([]lobby.ActiveGame, 0, len(m.rooms))
	online := len(m.sessions)
	for _, rb := range m.rooms {
		seats := rb.rm.Seats()
		active = append(active, lobby.ActiveGame{
			GameType: string(rb.rm.GameType),
			Stake:    rb.stake,
			Players:  []string{seats[0].DisplayName, seats[1].DisplayName},
		})
	}
	m.mu.RUnlock()

	return lobby.Snapshot{Waiting: waiting, ActiveGames: active, OnlineCount: online}
}

// teardownRoom removes a finished room from the registry and unbinds its
// two seats, invoked a grace window after the terminal transition. It is
// the session manager's half of the room actor's self-scheduled teardown —
// the room stops processing its mailbox on its own; this just forgets it.
func (m *Manager) teardownRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rb, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(m.rooms, roomID)
	seats := rb.rm.Seats()
	for _, seat := range seats {
		if s, ok := m.sessions[seat.SessionID]; ok && s.roomID == roomID {
			s.roomID = ""
		}
	}
}

// roomSink adapts *Manager to room.EventSink without exposing the Manager's
// full surface to the room package.
type roomSink Manager

func (s *roomSink) SendState(roomID string, seat engine.Seat, view any) {
	m := (*Manager)(s)
	m.mu.RLock()
	rb, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sid := rb.rm.Seats()[seat].SessionID
	m.out.Send(sid, "game_state", view)
}

func (s *roomSink) SendRejection(roomID string, seat engine.Seat, kind string) {
	m := (*Manager)(s)
	m.mu.RLock()
	rb, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sid := rb.rm.Seats()[seat].SessionID
	m.out.Send(sid, "error_msg", map[string]any{"msg": kind})
}

func (s *roomSink) SendGameOver(roomID string, settled room.Settled) {
	m := (*Manager)(s)
	m.mu.RLock()
	rb, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	seats := rb.rm.Seats()
	winner := any(nil)
	if !settled.IsDraw {
		winner = settled.WinnerName
	}
	payload := map[string]any{
		"winner":       winner,
		"winnerWallet": settled.WinnerWallet,
		"payout":       settled.Payout,
		"isDraw":       settled.IsDraw,
		"resigned":     settled.Resigned,
		"reason":       settled.Reason,
	}
	for _, seat := range seats {
		m.out.Send(seat.SessionID, "game_over", payload)
	}

	// Informational balance notifications: the payout for the winner, the
	// refunded stake for each seat on a draw. Balances live with the payment
	// oracle; these only tell the client something changed.
	if settled.IsDraw {
		for _, seat := range seats {
			m.out.Send(seat.SessionID, "balance_update", map[string]any{
				"account": seat.Account, "change": rb.stake,
			})
		}
	} else if settled.Winner != nil {
		w := seats[*settled.Winner]
		m.out.Send(w.SessionID, "balance_update", map[string]any{
			"account": w.Account, "change": settled.Payout,
		})
	}

	// The room actor tears itself down after the correct grace window
	// (shorter for a disconnect loss); this just needs to outlast that so
	// the registry cleanup never races the actor's own exit.
	grace := m.cfg.TeardownGrace
	if m.cfg.DisconnectGrace > grace {
		grace = m.cfg.DisconnectGrace
	}
	time.AfterFunc(grace+time.Second, func() { m.teardownRoom(roomID) })
}

func parseGameType(s string) (engine.GameType, error) {
	switch engine.GameType(s) {
	case engine.TicTacToe, engine.Morpion, engine.Mancala, engine.Checkers, engine.Chess, engine.Dominoes:
		return engine.GameType(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownGameType, s)
	}
}
