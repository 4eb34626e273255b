package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-live/internal/domain"
)

// BuildPGN renders a game as PGN with numbered SAN moves. Games that did not
// start from the standard position carry SetUp/FEN headers.
func BuildPGN(g *domain.Game) string {
	if g == nil {
		return ""
	}
	date := g.CreatedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := g.Result.PGN()

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(eventName(g.Type)))
	b.WriteString("[Site \"chess-live\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(displayName(g.White)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(displayName(g.Black)))
	if strings.TrimSpace(g.TimeControl) != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(g.TimeControl))
	}
	if g.Initial.FEN != "" && g.Initial.FEN != domain.StartFEN {
		b.WriteString("[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN \"%s\"]\n", sanitizePGN(g.Initial.FEN))
	}
	if strings.TrimSpace(g.EndReason) != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(g.EndReason))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	// numbering follows the starting ply so black-to-move setups render as "N... x"
	ply := g.Initial.Ply
	for i, m := range g.Moves {
		n := (ply+i)/2 + 1
		san := strings.TrimSpace(m.Notation)
		if m.Color == domain.White {
			fmt.Fprintf(&b, "%d. %s ", n, san)
		} else if i == 0 {
			fmt.Fprintf(&b, "%d... %s ", n, san)
		} else {
			b.WriteString(san + " ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func eventName(t domain.GameType) string {
	switch t {
	case domain.GameRanked:
		return "Rated game"
	case domain.GameComputer, domain.GameGuest:
		return "Game vs computer"
	default:
		return "Casual game"
	}
}

func displayName(p domain.Player) string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.ID
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
