package engine

import (
	"xox/internal/game/tictactoe"
)

// Outbound message types.
const (
	MsgGameStart  = "game_start"
	MsgGameUpdate = "game_update"
	MsgGameOver   = "game_over"
)

// GameStart tells a player a session has begun.
type GameStart struct {
	SessionID string           `json:"sessionId"`
	Size      int              `json:"size"`
	Opponent  string           `json:"opponent"`
	Symbol    tictactoe.Symbol `json:"symbol"`
	Turn      string           `json:"turn"`
	IsAI      bool             `json:"isAI"`
}

// GameUpdate carries the board after a non-terminal move.
type GameUpdate struct {
	Board tictactoe.Board `json:"board"`
	Turn  string          `json:"turn"`
}

// GameOver is the terminal event. Winner is nil on a draw.
type GameOver struct {
	Winner *string         `json:"winner"`
	Board  tictactoe.Board `json:"board"`
}
