package engine

import "strconv"

// chess implements full chess rules: pseudo-legal generation filtered by
// king-in-check, castling with its three pre-conditions, en passant,
// promotion, and checkmate/stalemate termination. Legal-move generation
// uses the try-then-undo approach the spec calls out as the reference
// algorithm (spec.md §9): generate pseudo-legal moves, apply speculatively,
// test king safety, back out.
//
// Seat 0 plays white, seat 1 plays black. Squares are 0..63, rank-major
// (square = rank*8+file, rank 0 = white's back rank, file 0 = the a-file).

type pieceType byte

const (
	ptNone pieceType = iota
	ptPawn
	ptKnight
	ptBishop
	ptRook
	ptQueen
	ptKing
)

type cpiece struct {
	typ  pieceType
	seat Seat
}

type castleRights struct {
	whiteKing, whiteQueen, blackKing, blackQueen bool
}

type chess struct {
	board        [64]*cpiece
	current      Seat
	rights       castleRights
	enPassant    int // target square, -1 if none
	halfmoveClock int
	over         bool
	winner       *Seat
	resigned     bool
}

const noSquare = -1

func newChess() (Engine, error) {
	c := &chess{enPassant: noSquare}
	back := func(seat Seat, rank int) {
		order := []pieceType{ptRook, ptKnight, ptBishop, ptQueen, ptKing, ptBishop, ptKnight, ptRook}
		for file, pt := range order {
			c.board[rank*8+file] = &cpiece{typ: pt, seat: seat}
		}
	}
	back(SeatZero, 0)
	back(SeatOne, 7)
	for file := 0; file < 8; file++ {
		c.board[1*8+file] = &cpiece{typ: ptPawn, seat: SeatZero}
		c.board[6*8+file] = &cpiece{typ: ptPawn, seat: SeatOne}
	}
	c.rights = castleRights{true, true, true, true}
	c.current = SeatZero
	return c, nil
}

func sqRankFile(sq int) (int, int) { return sq / 8, sq % 8 }
func sqFrom(rank, file int) (int, bool) {
	if rank < 0 || rank > 7 || file < 0 || file > 7 {
		return 0, false
	}
	return rank*8 + file, true
}

func algebraic(sq int) string {
	rank, file := sqRankFile(sq)
	return string(rune('a'+file)) + strconv.Itoa(rank+1)
}

func fromAlgebraic(s string) (int, bool) {
	if len(s) != 2 {
		return 0, false
	}
	file := int(s[0] - 'a')
	rank := int(s[1] - '1')
	return sqFrom(rank, file)
}

type cmove struct {
	from, to   int
	promotion  pieceType
	isCastle   bool
	castleRookFrom, castleRookTo int
	isEnPassant bool
	capturedSq int // square of captured piece, noSquare if none
}

func pawnForward(seat Seat) int {
	if seat == SeatZero {
		return 1
	}
	return -1
}

func pawnStartRank(seat Seat) int {
	if seat == SeatZero {
		return 1
	}
	return 6
}

func pawnPromoRank(seat Seat) int {
	if seat == SeatZero {
		return 7
	}
	return 0
}

// pseudoMoves generates pseudo-legal moves for the piece at sq, ignoring
// whether the mover's own king ends up in check.
func (c *chess) pseudoMoves(sq int) []cmove {
	p := c.board[sq]
	if p == nil {
		return nil
	}
	switch p.typ {
	case ptPawn:
		return c.pawnMoves(sq, p)
	case ptKnight:
		return c.steppingMoves(sq, p, [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}})
	case ptBishop:
		return c.slidingMoves(sq, p, [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}})
	case ptRook:
		return c.slidingMoves(sq, p, [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}})
	case ptQueen:
		return c.slidingMoves(sq, p, [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}, {1, 0}, {-1, 0}, {0, 1}, {0, -1}})
	case ptKing:
		return c.kingMoves(sq, p)
	}
	return nil
}

func (c *chess) pawnMoves(sq int, p *cpiece) []cmove {
	var moves []cmove
	rank, file := sqRankFile(sq)
	fd := pawnForward(p.seat)
	if to, ok := sqFrom(rank+fd, file); ok && c.board[to] == nil {
		moves = append(moves, c.maybePromote(sq, to, p, noSquare)...)
		if rank == pawnStartRank(p.seat) {
			if to2, ok2 := sqFrom(rank+2*fd, file); ok2 && c.board[to2] == nil {
				moves = append(moves, cmove{from: sq, to: to2, capturedSq: noSquare})
			}
		}
	}
	for _, df := range []int{-1, 1} {
		to, ok := sqFrom(rank+fd, file+df)
		if !ok {
			continue
		}
		if target := c.board[to]; target != nil && target.seat != p.seat {
			moves = append(moves, c.maybePromote(sq, to, p, to)...)
		} else if to == c.enPassant {
			capSq, _ := sqFrom(rank, file+df)
			moves = append(moves, cmove{from: sq, to: to, capturedSq: capSq, isEnPassant: true})
		}
	}
	return moves
}

func (c *chess) maybePromote(from, to int, p *cpiece, capturedSq int) []cmove {
	toRank, _ := sqRankFile(to)
	if toRank == pawnPromoRank(p.seat) {
		var moves []cmove
		for _, pt := range []pieceType{ptQueen, ptRook, ptBishop, ptKnight} {
			moves = append(moves, cmove{from: from, to: to, promotion: pt, capturedSq: capturedSq})
		}
		return moves
	}
	return []cmove{{from: from, to: to, capturedSq: capturedSq}}
}

func (c *chess) steppingMoves(sq int, p *cpiece, deltas [][2]int) []cmove {
	var moves []cmove
	rank, file := sqRankFile(sq)
	for _, d := range deltas {
		to, ok := sqFrom(rank+d[0], file+d[1])
		if !ok {
			continue
		}
		target := c.board[to]
		if target == nil {
			moves = append(moves, cmove{from: sq, to: to, capturedSq: noSquare})
		} else if target.seat != p.seat {
			moves = append(moves, cmove{from: sq, to: to, capturedSq: to})
		}
	}
	return moves
}

func (c *chess) slidingMoves(sq int, p *cpiece, dirs [][2]int) []cmove {
	var moves []cmove
	rank, file := sqRankFile(sq)
	for _, d := range dirs {
		r, f := rank+d[0], file+d[1]
		for {
			to, ok := sqFrom(r, f)
			if !ok {
				break
			}
			target := c.board[to]
			if target == nil {
				moves = append(moves, cmove{from: sq, to: to, capturedSq: noSquare})
			} else {
				if target.seat != p.seat {
					moves = append(moves, cmove{from: sq, to: to, capturedSq: to})
				}
				break
			}
			r, f = r+d[0], f+d[1]
		}
	}
	return moves
}

func (c *chess) kingMoves(sq int, p *cpiece) []cmove {
	moves := c.steppingMoves(sq, p, [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}})
	moves = append(moves, c.castleMoves(sq, p)...)
	return moves
}

func (c *chess) castleMoves(sq int, p *cpiece) []cmove {
	var moves []cmove
	rank, _ := sqRankFile(sq)
	backRank := 0
	if p.seat == SeatOne {
		backRank = 7
	}
	if rank != backRank {
		return nil
	}
	enemy := p.seat.Other()
	kingSide, queenSide := c.rights.whiteKing, c.rights.whiteQueen
	if p.seat == SeatOne {
		kingSide, queenSide = c.rights.blackKing, c.rights.blackQueen
	}
	kingSq, _ := sqFrom(backRank, 4)
	if c.isSquareAttacked(kingSq, enemy) {
		return nil // can't castle out of check
	}
	if kingSide {
		f5, _ := sqFrom(backRank, 5)
		f6, _ := sqFrom(backRank, 6)
		rookSq, _ := sqFrom(backRank, 7)
		if c.board[f5] == nil && c.board[f6] == nil &&
			!c.isSquareAttacked(f5, enemy) && !c.isSquareAttacked(f6, enemy) &&
			c.board[rookSq] != nil && c.board[rookSq].typ == ptRook {
			moves = append(moves, cmove{from: sq, to: f6, isCastle: true, castleRookFrom: rookSq, castleRookTo: f5, capturedSq: noSquare})
		}
	}
	if queenSide {
		f3, _ := sqFrom(backRank, 3)
		f2, _ := sqFrom(backRank, 2)
		f1, _ := sqFrom(backRank, 1)
		rookSq, _ := sqFrom(backRank, 0)
		if c.board[f3] == nil && c.board[f2] == nil && c.board[f1] == nil &&
			!c.isSquareAttacked(f3, enemy) && !c.isSquareAttacked(f2, enemy) &&
			c.board[rookSq] != nil && c.board[rookSq].typ == ptRook {
			moves = append(moves, cmove{from: sq, to: f2, isCastle: true, castleRookFrom: rookSq, castleRookTo: f3, capturedSq: noSquare})
		}
	}
	return moves
}

// isSquareAttacked reports whether sq is attacked by any piece of attacker,
// used both for check detection and for the castling-through-check tests.
func (c *chess) isSquareAttacked(sq int, attacker Seat) bool {
	rank, file := sqRankFile(sq)
	// pawns
	back := pawnForward(attacker.Other()) // direction a defending pawn would move; attacker's pawn attacks from behind that
	for _, df := range []int{-1, 1} {
		if from, ok := sqFrom(rank+back, file+df); ok {
			if p := c.board[from]; p != nil && p.seat == attacker && p.typ == ptPawn {
				return true
			}
		}
	}
	// knights
	for _, d := range [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}} {
		if from, ok := sqFrom(rank+d[0], file+d[1]); ok {
			if p := c.board[from]; p != nil && p.seat == attacker && p.typ == ptKnight {
				return true
			}
		}
	}
	// king
	for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
		if from, ok := sqFrom(rank+d[0], file+d[1]); ok {
			if p := c.board[from]; p != nil && p.seat == attacker && p.typ == ptKing {
				return true
			}
		}
	}
	// sliding: bishop/queen diagonals, rook/queen orthogonals
	diag := [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	orth := [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	if c.slideAttack(rank, file, diag, attacker, ptBishop, ptQueen) {
		return true
	}
	if c.slideAttack(rank, file, orth, attacker, ptRook, ptQueen) {
		return true
	}
	return false
}

func (c *chess) slideAttack(rank, file int, dirs [][2]int, attacker Seat, types ...pieceType) bool {
	for _, d := range dirs {
		r, f := rank+d[0], file+d[1]
		for {
			sq, ok := sqFrom(r, f)
			if !ok {
				break
			}
			if p := c.board[sq]; p != nil {
				if p.seat == attacker {
					for _, t := range types {
						if p.typ == t {
							return true
						}
					}
				}
				break
			}
			r, f = r+d[0], f+d[1]
		}
	}
	return false
}

func (c *chess) findKing(seat Seat) int {
	for sq, p := range c.board {
		if p != nil && p.typ == ptKing && p.seat == seat {
			return sq
		}
	}
	return noSquare
}

func (c *chess) inCheck(seat Seat) bool {
	k := c.findKing(seat)
	return k != noSquare && c.isSquareAttacked(k, seat.Other())
}

// applyMove mutates the board for m without any legality checking. Returns
// an undo closure.
func (c *chess) applyMove(m cmove) func() {
	p := c.board[m.from]
	capturedSq := m.capturedSq
	var captured *cpiece
	if capturedSq != noSquare {
		captured = c.board[capturedSq]
	}
	prevEnPassant := c.enPassant
	prevRights := c.rights

	c.board[m.from] = nil
	if capturedSq != noSquare {
		c.board[capturedSq] = nil
	}
	movedPiece := *p
	if m.promotion != ptNone {
		movedPiece.typ = m.promotion
	}
	c.board[m.to] = &movedPiece

	var rookMoved *cpiece
	if m.isCastle {
		rookMoved = c.board[m.castleRookFrom]
		c.board[m.castleRookFrom] = nil
		c.board[m.castleRookTo] = rookMoved
	}

	c.enPassant = noSquare
	if p.typ == ptPawn {
		rankFrom, _ := sqRankFile(m.from)
		rankTo, _ := sqRankFile(m.to)
		if rankTo-rankFrom == 2 || rankFrom-rankTo == 2 {
			c.enPassant = (m.from + m.to) / 2
		}
	}

	c.updateCastlingRights(m, p)

	return func() {
		c.board[m.from] = p
		c.board[m.to] = nil
		if capturedSq != noSquare {
			c.board[capturedSq] = captured
		}
		if m.isCastle {
			c.board[m.castleRookFrom] = rookMoved
			c.board[m.castleRookTo] = nil
		}
		c.enPassant = prevEnPassant
		c.rights = prevRights
	}
}

func (c *chess) updateCastlingRights(m cmove, moved *cpiece) {
	clear := func(sq int) {
		switch sq {
		case 4:
			c.rights.whiteKing, c.rights.whiteQueen = false, false
		case 60:
			c.rights.blackKing, c.rights.blackQueen = false, false
		case 0:
			c.rights.whiteQueen = false
		case 7:
			c.rights.whiteKing = false
		case 56:
			c.rights.blackQueen = false
		case 63:
			c.rights.blackKing = false
		}
	}
	if moved.typ == ptKing || moved.typ == ptRook {
		clear(m.from)
	}
	if m.capturedSq != noSquare {
		clear(m.capturedSq)
	}
	clear(m.to)
}

func (c *chess) legalMoves(seat Seat) []cmove {
	var legal []cmove
	for sq, p := range c.board {
		if p == nil || p.seat != seat {
			continue
		}
		for _, m := range c.pseudoMoves(sq) {
			undo := c.applyMove(m)
			ok := !c.inCheck(seat)
			undo()
			if ok {
				legal = append(legal, m)
			}
		}
	}
	return legal
}

func (c *chess) Apply(seat Seat, action Action) Outcome {
	if c.over {
		return errOutcome(reject(KindGameOver))
	}
	if seat != c.current {
		return errOutcome(reject(KindNotYourTurn))
	}
	if resign, ok := actionBool(action, "resign"); ok && resign {
		c.over = true
		c.resigned = true
		w := seat.Other()
		c.winner = &w
		return appliedGameOver(&w)
	}

	fromStr, ok1 := actionString(action, "from")
	toStr, ok2 := actionString(action, "to")
	if !ok1 || !ok2 {
		return errOutcome(reject(KindInvalidAction))
	}
	from, ok3 := fromAlgebraic(fromStr)
	to, ok4 := fromAlgebraic(toStr)
	if !ok3 || !ok4 {
		return errOutcome(reject(KindInvalidAction))
	}
	p := c.board[from]
	if p == nil || p.seat != seat {
		return errOutcome(reject("wrong-piece"))
	}

	promo := ptQueen
	if promoStr, ok := actionString(action, "promotion"); ok {
		switch promoStr {
		case "Q":
			promo = ptQueen
		case "R":
			promo = ptRook
		case "B":
			promo = ptBishop
		case "N":
			promo = ptKnight
		default:
			return errOutcome(reject(KindInvalidAction))
		}
	}

	legal := c.legalMoves(seat)
	var chosen *cmove
	for i := range legal {
		m := legal[i]
		if m.from != from || m.to != to {
			continue
		}
		if m.promotion != ptNone && m.promotion != promo {
			continue
		}
		chosen = &m
		break
	}
	if chosen == nil {
		if c.wouldMoveThroughAttackedCastle(from, to, seat) {
			return errOutcome(reject("king-moves-through-attacked"))
		}
		return errOutcome(reject(KindIllegalMove))
	}

	c.applyMove(*chosen)
	c.halfmoveClock++
	if p.typ == ptPawn || chosen.capturedSq != noSquare {
		c.halfmoveClock = 0
	}

	opponent := seat.Other()
	oppMoves := c.legalMoves(opponent)
	if len(oppMoves) == 0 {
		c.over = true
		if c.inCheck(opponent) {
			w := seat
			c.winner = &w
			return appliedGameOver(&w)
		}
		return appliedGameOver(nil) // stalemate
	}
	c.current = opponent
	return applied()
}

// wouldMoveThroughAttackedCastle distinguishes the "king-moves-through-attacked"
// rejection kind from a generic illegal-move when the rejected move was an
// otherwise-plausible castle attempt (spec.md §8 scenario 5).
func (c *chess) wouldMoveThroughAttackedCastle(from, to int, seat Seat) bool {
	p := c.board[from]
	if p == nil || p.typ != ptKing {
		return false
	}
	rank, file := sqRankFile(from)
	toFile := to % 8
	if toFile-file != 2 && file-toFile != 2 {
		return false
	}
	enemy := seat.Other()
	step := 1
	if toFile < file {
		step = -1
	}
	for f := file; f != toFile+step; f += step {
		sq, _ := sqFrom(rank, f)
		if c.isSquareAttacked(sq, enemy) {
			return true
		}
	}
	return false
}

func (c *chess) View(seat Seat) any {
	board := make([]any, 64)
	for sq, p := range c.board {
		if p == nil {
			continue
		}
		board[sq] = map[string]any{"type": pieceLetter(p.typ), "seat": int(p.seat)}
	}
	epAny := any(nil)
	if c.enPassant != noSquare {
		epAny = algebraic(c.enPassant)
	}
	return map[string]any{
		"board":         board,
		"currentPlayer": int(c.current),
		"gameOver":      c.over,
		"winner":        seatPtrToAny(c.winner),
		"resigned":      c.resigned,
		"inCheck":       c.inCheck(c.current),
		"enPassant":     epAny,
		"halfmoveClock": c.halfmoveClock,
		"yourSeat":      int(seat),
	}
}

func pieceLetter(t pieceType) string {
	switch t {
	case ptPawn:
		return "P"
	case ptKnight:
		return "N"
	case ptBishop:
		return "B"
	case ptRook:
		return "R"
	case ptQueen:
		return "Q"
	case ptKing:
		return "K"
	}
	return ""
}

// AutoFallback: the first legal move from the lowest-indexed piece of the
// side to move.
func (c *chess) AutoFallback(seat Seat) (Action, bool) {
	if c.over || seat != c.current {
		return nil, false
	}
	for sq := 0; sq < 64; sq++ {
		p := c.board[sq]
		if p == nil || p.seat != seat {
			continue
		}
		for _, m := range c.pseudoMoves(sq) {
			undo := c.applyMove(m)
			ok := !c.inCheck(seat)
			undo()
			if ok {
				action := Action{"from": algebraic(m.from), "to": algebraic(m.to)}
				if m.promotion != ptNone {
					action["promotion"] = pieceLetter(m.promotion)
				}
				return action, true
			}
		}
	}
	return nil, false
}

func (c *chess) CurrentSeat() Seat { return c.current }
func (c *chess) IsOver() bool      { return c.over }
func (c *chess) IsRoundOver() bool { return false }
