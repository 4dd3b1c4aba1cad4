// Package transport is the repository's concrete external interface
// (spec.md §1 calls the wire-transport library itself a non-goal, but a
// repository has to terminate somewhere — SPEC_FULL §2). It runs a fiber
// HTTP app exposing the GET /api/escrow REST endpoint and a websocket
// upgrade that frames the bidirectional, JSON, event-channel protocol from
// spec.md §6. Grounded on Musterbox-LLC-game-publish-system's fiber
// app/route setup (main.go, handlers/game.go) for the app and routing shape,
// and on the gofiber/contrib/websocket upgrade-then-loop idiom for the
// socket handler itself.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duelstake/match-server/internal/engine"
	"github.com/duelstake/match-server/internal/lobby"
	"github.com/duelstake/match-server/internal/session"
)

// envelope is the wire shape of every message in both directions: a named
// event plus its JSON payload (spec.md §6).
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Server wires the session Manager to fiber's HTTP/websocket app.
type Server struct {
	app     *fiber.App
	manager *session.Manager
	escrow  string
	log     *zap.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// New constructs the fiber app and registers routes. escrowAddress answers
// GET /api/escrow (spec.md §6).
func New(manager *session.Manager, escrowAddress string, log *zap.Logger) *Server {
	s := &Server{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		manager: manager,
		escrow:  escrowAddress,
		log:     log,
		conns:   make(map[string]*websocket.Conn),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/api/escrow", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"escrowAddress": s.escrow})
	})

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleConn))
}

// Listen starts serving on addr (e.g. ":8080"), blocking until the server
// is shut down.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the fiber app gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleConn is the per-connection read loop: one goroutine per socket,
// decoding envelopes and dispatching into the session Manager, matching the
// teacher's one-goroutine-per-session-chan consumer shape
// (listenGameChan in service/game_session_manager.go) generalised from a
// fixed action-type byte prefix to a named JSON event.
func (s *Server) handleConn(c *websocket.Conn) {
	sessionID := uuid.NewString()
	s.mu.Lock()
	s.conns[sessionID] = c
	s.mu.Unlock()
	s.manager.Connect(sessionID)

	defer func() {
		s.mu.Lock()
		delete(s.conns, sessionID)
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.manager.Disconnect(ctx, sessionID)
		cancel()
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": "invalid-action"})
			continue
		}
		s.dispatch(sessionID, env)
	}
}

func (s *Server) dispatch(sessionID string, env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch env.Event {
	case "register":
		var req struct {
			Account     string `json:"account"`
			DisplayName string `json:"displayName"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": "invalid-action"})
			return
		}
		if err := s.manager.Register(sessionID, req.Account, req.DisplayName); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": errKind(err)})
		}

	case "find_match":
		var req struct {
			GameType  string  `json:"gameType"`
			BetAmount float64 `json:"betAmount"`
			GridSize  int     `json:"gridSize"`
			Proof     string  `json:"proof"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": "invalid-action"})
			return
		}
		if err := s.manager.FindMatch(ctx, sessionID, session.FindMatchRequest{
			GameType: req.GameType, BetAmount: req.BetAmount, GridSize: req.GridSize, Proof: req.Proof,
		}); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": errKind(err)})
		}

	case "accept_bet":
		var req struct {
			BetID string `json:"betId"`
			Proof string `json:"proof"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": "invalid-action"})
			return
		}
		if err := s.manager.AcceptBet(ctx, sessionID, req.BetID, req.Proof); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": errKind(err)})
		}

	case "cancel_search":
		s.manager.CancelSearch(ctx, sessionID)

	case "game_action":
		var action engine.Action
		if err := json.Unmarshal(env.Payload, &action); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": "invalid-action"})
			return
		}
		if err := s.manager.GameAction(sessionID, action); err != nil {
			s.Send(sessionID, "error_msg", map[string]any{"msg": errKind(err)})
		}

	case "get_lobby":
		s.Send(sessionID, "lobby_update", lobbyPayload(s.manager.LobbySnapshot()))

	default:
		s.Send(sessionID, "error_msg", map[string]any{"msg": "unknown-event"})
	}
}

// errKind turns an error into the string sent in error_msg (spec.md §7).
// Sentinel and rejection errors print as their bare kind; other errors, such
// as a proof-store failure the oracle wraps, pass through with their full
// message.
func errKind(err error) string {
	return err.Error()
}

// Send implements session.Outbound for a single connection.
func (s *Server) Send(sessionID, event string, payload any) {
	s.mu.RLock()
	conn, ok := s.conns[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("transport: marshal payload failed", zap.String("event", event), zap.Error(err))
		return
	}
	env := envelope{Event: event, Payload: body}
	out, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
		s.log.Debug("transport: write failed", zap.String("sessionID", sessionID), zap.Error(err))
	}
}

// Broadcast implements session.Outbound for every connected session.
func (s *Server) Broadcast(event string, payload any) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.Send(id, event, payload)
	}
}

// BroadcastLobby implements lobby.Sink.
func (s *Server) BroadcastLobby(_ context.Context, snap lobby.Snapshot) {
	s.Broadcast("lobby_update", lobbyPayload(snap))
}

func lobbyPayload(snap lobby.Snapshot) map[string]any {
	waiting := make([]map[string]any, len(snap.Waiting))
	for i, w := range snap.Waiting {
		waiting[i] = map[string]any{
			"id": w.ID, "gameType": w.GameType, "betAmount": w.Stake,
			"username": w.Username, "wallet": w.Wallet, "gridSize": w.GridSize,
		}
	}
	active := make([]map[string]any, len(snap.ActiveGames))
	for i, a := range snap.ActiveGames {
		active[i] = map[string]any{"gameType": a.GameType, "betAmount": a.Stake, "players": a.Players}
	}
	return map[string]any{"waiting": waiting, "activeGames": active, "onlineCount": snap.OnlineCount}
}
