package engine

import (
	"go.uber.org/zap"

	"xox/internal/game/tictactoe"
	"xox/internal/session"
)

// makeMove is the only admission gate for player moves. Anything that does
// not fit the current state is ignored without a reply.
func (e *Engine) makeMove(sessionID string, cell int, playerID string) {
	s, ok := e.sessions.Get(sessionID)
	if !ok || playerID == session.AIPlayer || s.Turn != playerID {
		return
	}
	if !s.Board.InRange(cell) || s.Board.Occupied(cell) {
		return
	}
	e.apply(s, cell, playerID)
}

// apply places playerID's mark and either settles the game or hands the turn over.
func (e *Engine) apply(s *session.Session, cell int, playerID string) {
	s.Board[cell] = s.SymbolOf(playerID)
	s.LastActive = e.now()

	if w := s.Board.Winner(); w != tictactoe.Empty {
		winner, _ := s.PlayerOf(w)
		e.settle(s.ID, &winner)
		return
	}
	if s.Board.Full() {
		e.settle(s.ID, nil)
		return
	}

	s.Turn = s.Other(playerID)
	s.Broadcast(MsgGameUpdate, GameUpdate{Board: s.Board.Clone(), Turn: s.Turn})

	if s.AITurn() {
		id := s.ID
		e.sched.schedule(e.opts.AIMoveDelay, task{
			kind:   taskAIMove,
			target: id,
			guard: func() bool {
				cur, ok := e.sessions.Get(id)
				return ok && cur.AITurn()
			},
			run: func() { e.aiMove(id) },
		})
	}
}

func (e *Engine) aiMove(sessionID string) {
	s, ok := e.sessions.Get(sessionID)
	if !ok || !s.AITurn() {
		return
	}
	v, ok := e.variants.Get(s.Size)
	if !ok {
		e.log.Error("no variant for live session", zap.String("session", s.ID), zap.Int("size", s.Size))
		return
	}
	cell, ok := e.ai.SelectMove(s.Board, tictactoe.O, v.AIDepth)
	if !ok {
		return
	}
	e.apply(s, cell, session.AIPlayer)
}
