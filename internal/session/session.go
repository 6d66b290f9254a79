package session

import (
	"fmt"
	"time"

	"xox/internal/game/tictactoe"
)

// AIPlayer is the synthetic participant id of the computer opponent. It is never persisted.
const AIPlayer = "AI"

// Mode tells human games and AI games apart.
type Mode string

const (
	ModeHuman Mode = "human"
	ModeAI    Mode = "ai"
)

// Conn delivers events to one connected player.
type Conn interface {
	ID() string
	Send(msgType string, payload any)
}

// Session is one live game. It is owned by a single goroutine and carries no lock.
type Session struct {
	ID         string
	Mode       Mode
	Size       int
	Players    [2]string // Players[0] plays X, Players[1] plays O
	Board      tictactoe.Board
	Turn       string
	Conns      [2]Conn // Conns[1] is nil in ModeAI
	CreatedAt  time.Time
	LastActive time.Time // creation or last applied move
}

// NewHuman creates a game between two connected players. x moves first.
func NewHuman(size int, x, o string, xConn, oConn Conn, now time.Time) *Session {
	return &Session{
		ID:         fmt.Sprintf("%s-%s-%d", x, o, now.UnixMilli()),
		Mode:       ModeHuman,
		Size:       size,
		Players:    [2]string{x, o},
		Board:      tictactoe.NewBoard(size),
		Turn:       x,
		Conns:      [2]Conn{xConn, oConn},
		CreatedAt:  now,
		LastActive: now,
	}
}

// NewAI creates a game between a player and the computer. The player is X and moves first.
func NewAI(size int, player string, conn Conn, now time.Time) *Session {
	return &Session{
		ID:         fmt.Sprintf("ai-%s-%d", player, now.UnixMilli()),
		Mode:       ModeAI,
		Size:       size,
		Players:    [2]string{player, AIPlayer},
		Board:      tictactoe.NewBoard(size),
		Turn:       player,
		Conns:      [2]Conn{conn, nil},
		CreatedAt:  now,
		LastActive: now,
	}
}

// SymbolOf returns the mark a participant plays with.
func (s *Session) SymbolOf(playerID string) tictactoe.Symbol {
	if s.Players[0] == playerID {
		return tictactoe.X
	}
	return tictactoe.O
}

// PlayerOf maps a winning symbol back to the participant id.
func (s *Session) PlayerOf(sym tictactoe.Symbol) (string, bool) {
	switch sym {
	case tictactoe.X:
		return s.Players[0], true
	case tictactoe.O:
		return s.Players[1], true
	}
	return "", false
}

// Other returns the opponent of playerID.
func (s *Session) Other(playerID string) string {
	if s.Players[0] == playerID {
		return s.Players[1]
	}
	return s.Players[0]
}

// AITurn reports whether the computer is to move.
func (s *Session) AITurn() bool {
	return s.Mode == ModeAI && s.Turn == AIPlayer
}

// Humans returns the participants that can earn points.
func (s *Session) Humans() []string {
	ids := make([]string, 0, 2)
	for _, p := range s.Players {
		if p != AIPlayer {
			ids = append(ids, p)
		}
	}
	return ids
}

// Broadcast sends a message to every connected participant.
func (s *Session) Broadcast(msgType string, payload any) {
	for _, c := range s.Conns {
		if c != nil {
			c.Send(msgType, payload)
		}
	}
}

// Info is the public view of a session.
type Info struct {
	ID      string          `json:"id"`
	Mode    Mode            `json:"mode"`
	Size    int             `json:"size"`
	Players [2]string       `json:"players"`
	Board   tictactoe.Board `json:"board"`
	Turn    string          `json:"turn"`
}

// Info returns a snapshot that is safe to hand to another goroutine.
func (s *Session) Info() Info {
	return Info{
		ID:      s.ID,
		Mode:    s.Mode,
		Size:    s.Size,
		Players: s.Players,
		Board:   s.Board.Clone(),
		Turn:    s.Turn,
	}
}
