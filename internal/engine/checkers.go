package engine

// checkers implements American checkers on the 8x8 dark squares, (row+col)
// odd. Men move diagonally forward one; kings move diagonally any distance
// is NOT granted here — this variant keeps kings single-step four-directional
// per spec.md §4.1.4 ("kings four-directionally"), not flying-king rules.
type ckPiece struct {
	seat Seat
	king bool
}

type checkers struct {
	board         [64]*ckPiece // nil = empty; only dark squares are ever populated
	current       Seat
	over          bool
	winner        *Seat
	mustContinue  int // square index that must continue jumping from, -1 if none
}

const ckEmpty = -1

func newCheckers(rng func() float64) (Engine, error) {
	c := &checkers{mustContinue: ckEmpty}
	for sq := 0; sq < 64; sq++ {
		row, col := sq/8, sq%8
		if (row+col)%2 != 1 {
			continue
		}
		if row < 3 {
			c.board[sq] = &ckPiece{seat: SeatOne}
		} else if row > 4 {
			c.board[sq] = &ckPiece{seat: SeatZero}
		}
	}
	c.current = SeatZero
	if rng() < 0.5 {
		c.current = SeatOne
	}
	return c, nil
}

func ckRowCol(sq int) (int, int) { return sq / 8, sq % 8 }
func ckSquare(row, col int) (int, bool) {
	if row < 0 || row > 7 || col < 0 || col > 7 {
		return 0, false
	}
	return row*8 + col, true
}

// forwardDir returns the row delta a man of seat advances along.
func forwardDir(seat Seat) int {
	if seat == SeatZero {
		return -1
	}
	return 1
}

type ckMove struct {
	from, to int
	capture  int // square of captured piece, ckEmpty if none
}

func (c *checkers) pieceMoves(sq int) []ckMove {
	p := c.board[sq]
	if p == nil {
		return nil
	}
	row, col := ckRowCol(sq)
	var dirs [][2]int
	if p.king {
		dirs = [][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
	} else {
		fd := forwardDir(p.seat)
		dirs = [][2]int{{fd, -1}, {fd, 1}}
	}
	var moves []ckMove
	for _, d := range dirs {
		// simple step
		if to, ok := ckSquare(row+d[0], col+d[1]); ok && c.board[to] == nil {
			moves = append(moves, ckMove{from: sq, to: to, capture: ckEmpty})
		}
		// jump
		midRow, midCol := row+d[0], col+d[1]
		landRow, landCol := row+2*d[0], col+2*d[1]
		mid, okMid := ckSquare(midRow, midCol)
		land, okLand := ckSquare(landRow, landCol)
		if okMid && okLand && c.board[mid] != nil && c.board[mid].seat != p.seat && c.board[land] == nil {
			moves = append(moves, ckMove{from: sq, to: land, capture: mid})
		}
	}
	return moves
}

func (c *checkers) seatPieces(seat Seat) []int {
	var sqs []int
	for sq, p := range c.board {
		if p != nil && p.seat == seat {
			sqs = append(sqs, sq)
		}
	}
	return sqs
}

func (c *checkers) allMoves(seat Seat) []ckMove {
	var all []ckMove
	for _, sq := range c.seatPieces(seat) {
		all = append(all, c.pieceMoves(sq)...)
	}
	return all
}

func (c *checkers) hasCapture(seat Seat) bool {
	for _, m := range c.allMoves(seat) {
		if m.capture != ckEmpty {
			return true
		}
	}
	return false
}

func (c *checkers) Apply(seat Seat, action Action) Outcome {
	if c.over {
		return errOutcome(reject(KindGameOver))
	}
	if seat != c.current {
		return errOutcome(reject(KindNotYourTurn))
	}
	from, ok1 := actionInt(action, "from")
	to, ok2 := actionInt(action, "to")
	if !ok1 || !ok2 {
		return errOutcome(reject(KindInvalidAction))
	}
	if c.mustContinue != ckEmpty && from != c.mustContinue {
		return errOutcome(reject("must-continue-jump"))
	}
	p := c.board[from]
	if p == nil || p.seat != seat {
		return errOutcome(reject("wrong-piece"))
	}

	legal := c.pieceMoves(from)
	var chosen *ckMove
	for i := range legal {
		if legal[i].to == to {
			chosen = &legal[i]
			break
		}
	}
	if chosen == nil {
		return errOutcome(reject(KindIllegalMove))
	}

	mustCapture := c.mustContinue != ckEmpty || c.hasCapture(seat)
	if mustCapture && chosen.capture == ckEmpty {
		return errOutcome(reject("must-capture"))
	}

	c.board[to] = p
	c.board[from] = nil
	captured := chosen.capture != ckEmpty
	if captured {
		c.board[chosen.capture] = nil
	}

	promoted := false
	backRank := 0
	if p.seat == SeatZero {
		backRank = 0
	} else {
		backRank = 7
	}
	if toRow, _ := ckRowCol(to); toRow == backRank && !p.king {
		p.king = true
		promoted = true
	}

	if captured && !promoted {
		if further := c.pieceMoves(to); anyCapture(further) {
			c.mustContinue = to
			return appliedExtraTurn()
		}
	}
	c.mustContinue = ckEmpty

	if c.noPiecesOrMoves(seat.Other()) {
		c.over = true
		w := seat
		c.winner = &w
		return appliedGameOver(&w)
	}

	c.current = seat.Other()
	return applied()
}

func anyCapture(moves []ckMove) bool {
	for _, m := range moves {
		if m.capture != ckEmpty {
			return true
		}
	}
	return false
}

func (c *checkers) noPiecesOrMoves(seat Seat) bool {
	pieces := c.seatPieces(seat)
	if len(pieces) == 0 {
		return true
	}
	return len(c.allMoves(seat)) == 0
}

func (c *checkers) View(seat Seat) any {
	board := make([]any, 64)
	for sq, p := range c.board {
		if p == nil {
			continue
		}
		board[sq] = map[string]any{"seat": int(p.seat), "king": p.king}
	}
	mustContinue := any(nil)
	if c.mustContinue != ckEmpty {
		mustContinue = c.mustContinue
	}
	return map[string]any{
		"board":         board,
		"currentPlayer": int(c.current),
		"gameOver":      c.over,
		"winner":        seatPtrToAny(c.winner),
		"mustJumpFrom":  mustContinue,
		"yourSeat":      int(seat),
	}
}

// AutoFallback: continue a mandatory jump if pending; else the first
// available jump; else the first available non-jump.
func (c *checkers) AutoFallback(seat Seat) (Action, bool) {
	if c.over || seat != c.current {
		return nil, false
	}
	if c.mustContinue != ckEmpty {
		moves := c.pieceMoves(c.mustContinue)
		for _, m := range moves {
			if m.capture != ckEmpty {
				return Action{"from": m.from, "to": m.to}, true
			}
		}
		return nil, false
	}
	all := c.allMoves(seat)
	for _, m := range all {
		if m.capture != ckEmpty {
			return Action{"from": m.from, "to": m.to}, true
		}
	}
	if len(all) > 0 {
		return Action{"from": all[0].from, "to": all[0].to}, true
	}
	return nil, false
}

func (c *checkers) CurrentSeat() Seat { return c.current }
func (c *checkers) IsOver() bool      { return c.over }
func (c *checkers) IsRoundOver() bool { return false }
