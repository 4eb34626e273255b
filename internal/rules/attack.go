package rules

import nchess "github.com/corentings/chess/v2"

var (
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays    = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays  = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// inCheck reports whether side's king is attacked on board. chess/v2 only
// exposes check as a tag on the move that gave it, so a position loaded from
// FEN needs this scan.
func inCheck(board *nchess.Board, side nchess.Color) bool {
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			p := board.Piece(nchess.NewSquare(file, rank))
			if p.Type() == nchess.King && p.Color() == side {
				return attacked(board, int(file), int(rank), side.Other())
			}
		}
	}
	return false
}

func pieceAt(board *nchess.Board, f, r int) nchess.Piece {
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return nchess.NoPiece
	}
	return board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
}

func attacked(board *nchess.Board, f, r int, by nchess.Color) bool {
	pawnRank := r - 1
	if by == nchess.Black {
		pawnRank = r + 1
	}
	for _, df := range []int{-1, 1} {
		p := pieceAt(board, f+df, pawnRank)
		if p.Type() == nchess.Pawn && p.Color() == by {
			return true
		}
	}
	for _, s := range knightSteps {
		p := pieceAt(board, f+s[0], r+s[1])
		if p.Type() == nchess.Knight && p.Color() == by {
			return true
		}
	}
	for _, s := range kingSteps {
		p := pieceAt(board, f+s[0], r+s[1])
		if p.Type() == nchess.King && p.Color() == by {
			return true
		}
	}
	if slides(board, f, r, by, rookRays, nchess.Rook) {
		return true
	}
	return slides(board, f, r, by, bishopRays, nchess.Bishop)
}

func slides(board *nchess.Board, f, r int, by nchess.Color, rays [][2]int, slider nchess.PieceType) bool {
	for _, d := range rays {
		for nf, nr := f+d[0], r+d[1]; nf >= 0 && nf <= 7 && nr >= 0 && nr <= 7; nf, nr = nf+d[0], nr+d[1] {
			p := pieceAt(board, nf, nr)
			if p == nchess.NoPiece {
				continue
			}
			if p.Color() == by && (p.Type() == slider || p.Type() == nchess.Queen) {
				return true
			}
			break
		}
	}
	return false
}
