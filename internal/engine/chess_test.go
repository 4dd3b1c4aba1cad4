package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sq(coord string) int {
	s, ok := fromAlgebraic(coord)
	if !ok {
		panic("bad coord " + coord)
	}
	return s
}

// bareChess builds a position from piece placements, with all castling
// rights granted; tests clear rights as needed.
func bareChess(current Seat, place map[string]cpiece) *chess {
	c := &chess{enPassant: noSquare, current: current}
	c.rights = castleRights{true, true, true, true}
	for coord, p := range place {
		piece := p
		c.board[sq(coord)] = &piece
	}
	return c
}

func chessMove(from, to string) Action {
	return Action{"from": from, "to": to}
}

func TestChessInitialPositionAndFirstMoves(t *testing.T) {
	e, err := newChess()
	require.NoError(t, err)
	c := e.(*chess)

	assert.Equal(t, SeatZero, e.CurrentSeat())
	assert.Equal(t, ptRook, c.board[sq("a1")].typ)
	assert.Equal(t, ptKing, c.board[sq("e1")].typ)
	assert.Equal(t, ptKing, c.board[sq("e8")].typ)
	assert.Len(t, c.legalMoves(SeatZero), 20, "16 pawn moves + 4 knight moves")

	out := e.Apply(SeatZero, chessMove("e2", "e4"))
	require.Nil(t, out.Err)
	out = e.Apply(SeatOne, chessMove("e7", "e5"))
	require.Nil(t, out.Err)
	assert.Nil(t, c.board[sq("e2")])
	assert.Equal(t, ptPawn, c.board[sq("e4")].typ)
}

func TestChessCastlingDeniedThroughAttackedSquare(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"a1": {typ: ptRook, seat: SeatZero},
		"h1": {typ: ptRook, seat: SeatZero},
		"f8": {typ: ptRook, seat: SeatOne},
		"a8": {typ: ptKing, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("e1", "g1"))
	require.NotNil(t, out.Err)
	assert.Equal(t, "king-moves-through-attacked", out.Err.Kind)
}

func TestChessCastlingDeniedOutOfCheck(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"h1": {typ: ptRook, seat: SeatZero},
		"e8": {typ: ptRook, seat: SeatOne},
		"a8": {typ: ptKing, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("e1", "g1"))
	require.NotNil(t, out.Err)
	assert.Equal(t, "king-moves-through-attacked", out.Err.Kind)
}

func TestChessKingSideCastlePlacesRookFlanking(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"h1": {typ: ptRook, seat: SeatZero},
		"a8": {typ: ptKing, seat: SeatOne},
		"h8": {typ: ptPawn, seat: SeatOne}, // spare material so the game continues
	})

	out := c.Apply(SeatZero, chessMove("e1", "g1"))
	require.Nil(t, out.Err)
	assert.Equal(t, ptKing, c.board[sq("g1")].typ)
	assert.Equal(t, ptRook, c.board[sq("f1")].typ)
	assert.Nil(t, c.board[sq("e1")])
	assert.Nil(t, c.board[sq("h1")])
	assert.False(t, c.rights.whiteKing)
	assert.False(t, c.rights.whiteQueen)
}

func TestChessQueenSideCastle(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"a1": {typ: ptRook, seat: SeatZero},
		"a8": {typ: ptKing, seat: SeatOne},
		"h8": {typ: ptPawn, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("e1", "c1"))
	require.Nil(t, out.Err)
	assert.Equal(t, ptKing, c.board[sq("c1")].typ)
	assert.Equal(t, ptRook, c.board[sq("d1")].typ)
}

func TestChessCastlingRightForfeitedByRookMove(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"h1": {typ: ptRook, seat: SeatZero},
		"e8": {typ: ptKing, seat: SeatOne},
		"h8": {typ: ptRook, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("h1", "g1"))
	require.Nil(t, out.Err)
	assert.False(t, c.rights.whiteKing)
	out = c.Apply(SeatOne, chessMove("h8", "g8"))
	require.Nil(t, out.Err)

	out = c.Apply(SeatZero, chessMove("g1", "h1"))
	require.Nil(t, out.Err)
	out = c.Apply(SeatOne, chessMove("g8", "h8"))
	require.Nil(t, out.Err)

	// Rook is back home but the right is gone for good.
	out = c.Apply(SeatZero, chessMove("e1", "g1"))
	require.NotNil(t, out.Err)
	assert.Equal(t, KindIllegalMove, out.Err.Kind)
}

func TestChessEnPassant(t *testing.T) {
	c := bareChess(SeatOne, map[string]cpiece{
		"e5": {typ: ptPawn, seat: SeatZero},
		"d7": {typ: ptPawn, seat: SeatOne},
		"e1": {typ: ptKing, seat: SeatZero},
		"e8": {typ: ptKing, seat: SeatOne},
	})

	out := c.Apply(SeatOne, chessMove("d7", "d5"))
	require.Nil(t, out.Err)
	assert.Equal(t, sq("d6"), c.enPassant)

	out = c.Apply(SeatZero, chessMove("e5", "d6"))
	require.Nil(t, out.Err)
	assert.Equal(t, ptPawn, c.board[sq("d6")].typ)
	assert.Nil(t, c.board[sq("d5")], "captured pawn removed from its own square")
	assert.Equal(t, noSquare, c.enPassant, "target cleared on the next move")
}

func TestChessEnPassantExpiresAfterOneMove(t *testing.T) {
	c := bareChess(SeatOne, map[string]cpiece{
		"e5": {typ: ptPawn, seat: SeatZero},
		"d7": {typ: ptPawn, seat: SeatOne},
		"h7": {typ: ptPawn, seat: SeatOne},
		"h2": {typ: ptPawn, seat: SeatZero},
		"e1": {typ: ptKing, seat: SeatZero},
		"e8": {typ: ptKing, seat: SeatOne},
	})

	require.Nil(t, c.Apply(SeatOne, chessMove("d7", "d5")).Err)
	require.Nil(t, c.Apply(SeatZero, chessMove("h2", "h3")).Err)
	require.Nil(t, c.Apply(SeatOne, chessMove("h7", "h6")).Err)

	out := c.Apply(SeatZero, chessMove("e5", "d6"))
	require.NotNil(t, out.Err)
	assert.Equal(t, KindIllegalMove, out.Err.Kind)
}

func TestChessPromotion(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"a7": {typ: ptPawn, seat: SeatZero},
		"e1": {typ: ptKing, seat: SeatZero},
		"e8": {typ: ptKing, seat: SeatOne},
		"h7": {typ: ptPawn, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("a7", "a8"))
	require.Nil(t, out.Err)
	assert.Equal(t, ptQueen, c.board[sq("a8")].typ, "queen is the default promotion")
}

func TestChessUnderPromotion(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"a7": {typ: ptPawn, seat: SeatZero},
		"e1": {typ: ptKing, seat: SeatZero},
		"e8": {typ: ptKing, seat: SeatOne},
		"h7": {typ: ptPawn, seat: SeatOne},
	})

	action := chessMove("a7", "a8")
	action["promotion"] = "N"
	out := c.Apply(SeatZero, action)
	require.Nil(t, out.Err)
	assert.Equal(t, ptKnight, c.board[sq("a8")].typ)
}

func TestChessFoolsMateCheckmate(t *testing.T) {
	e, err := newChess()
	require.NoError(t, err)

	require.Nil(t, e.Apply(SeatZero, chessMove("f2", "f3")).Err)
	require.Nil(t, e.Apply(SeatOne, chessMove("e7", "e5")).Err)
	require.Nil(t, e.Apply(SeatZero, chessMove("g2", "g4")).Err)
	out := e.Apply(SeatOne, chessMove("d8", "h4"))

	require.Nil(t, out.Err)
	require.True(t, out.GameOver)
	require.NotNil(t, out.Winner)
	assert.Equal(t, SeatOne, *out.Winner)
}

func TestChessStalemateIsDraw(t *testing.T) {
	// White king f7, queen g1, black king h8. Qg1-g6 covers g7, g8 and h7
	// without checking h8: black has no legal move while not in check.
	c := bareChess(SeatZero, map[string]cpiece{
		"f7": {typ: ptKing, seat: SeatZero},
		"g1": {typ: ptQueen, seat: SeatZero},
		"h8": {typ: ptKing, seat: SeatOne},
	})

	out := c.Apply(SeatZero, chessMove("g1", "g6"))
	require.Nil(t, out.Err)
	require.True(t, out.GameOver)
	assert.Nil(t, out.Winner, "stalemate is a draw, not a win")
	assert.False(t, c.inCheck(SeatOne))
}

func TestChessMoveIntoCheckRejected(t *testing.T) {
	c := bareChess(SeatZero, map[string]cpiece{
		"e1": {typ: ptKing, seat: SeatZero},
		"e8": {typ: ptRook, seat: SeatOne},
		"a8": {typ: ptKing, seat: SeatOne},
		"d2": {typ: ptRook, seat: SeatZero},
	})

	// The e8 rook checks e1; stepping to e2 stays on the attacked file.
	out := c.Apply(SeatZero, chessMove("e1", "e2"))
	require.NotNil(t, out.Err)
	assert.Equal(t, KindIllegalMove, out.Err.Kind)
}

func TestChessResign(t *testing.T) {
	e, err := newChess()
	require.NoError(t, err)

	out := e.Apply(SeatZero, Action{"resign": true})
	require.Nil(t, out.Err)
	require.True(t, out.GameOver)
	require.NotNil(t, out.Winner)
	assert.Equal(t, SeatOne, *out.Winner)

	out = e.Apply(SeatOne, chessMove("e7", "e5"))
	require.NotNil(t, out.Err)
	assert.Equal(t, KindGameOver, out.Err.Kind)
}

func TestChessAutoFallbackLowestIndexedPiece(t *testing.T) {
	e, err := newChess()
	require.NoError(t, err)

	action, ok := e.AutoFallback(SeatZero)
	require.True(t, ok)
	from, _ := actionString(action, "from")
	to, _ := actionString(action, "to")
	assert.Equal(t, "b1", from, "a1 rook has no moves; the b1 knight is next")
	assert.Equal(t, "c3", to)
}

func TestChessMaterialChangesOnlyOnCapture(t *testing.T) {
	e, err := newChess()
	require.NoError(t, err)
	c := e.(*chess)

	countPieces := func() int {
		n := 0
		for _, p := range c.board {
			if p != nil {
				n++
			}
		}
		return n
	}

	require.Equal(t, 32, countPieces())
	require.Nil(t, e.Apply(SeatZero, chessMove("e2", "e4")).Err)
	require.Nil(t, e.Apply(SeatOne, chessMove("d7", "d5")).Err)
	assert.Equal(t, 32, countPieces())
	require.Nil(t, e.Apply(SeatZero, chessMove("e4", "d5")).Err)
	assert.Equal(t, 31, countPieces())
}
