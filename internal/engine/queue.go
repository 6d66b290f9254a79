package engine

import (
	"go.uber.org/zap"

	"xox/internal/game"
	"xox/internal/game/tictactoe"
	"xox/internal/session"
)

// waitingEntry is a player waiting for an opponent of a given board size.
type waitingEntry struct {
	conn     session.Conn
	playerID string
	seq      uint64 // identifies this entry to its fallback task
}

func (e *Engine) joinQueue(conn session.Conn, playerID string, size int) {
	log := e.log.With(zap.String("player", playerID), zap.Int("size", size), zap.String("conn", conn.ID()))

	if _, ok := e.variants.Get(size); !ok {
		log.Warn("join for unsupported board size")
		return
	}
	if playerID == "" || playerID == session.AIPlayer {
		log.Warn("join with reserved player id")
		return
	}
	if _, busy := e.sessions.ForConn(conn.ID()); busy {
		log.Debug("join from connection already in a game")
		return
	}

	q := e.queues[size]
	for _, w := range q {
		if w.playerID == playerID || w.conn.ID() == conn.ID() {
			log.Debug("duplicate join ignored")
			return
		}
	}

	if len(q) > 0 {
		opponent := q[0]
		e.queues[size] = q[1:]
		e.startHuman(size, opponent, waitingEntry{conn: conn, playerID: playerID})
		return
	}

	e.seq++
	entry := waitingEntry{conn: conn, playerID: playerID, seq: e.seq}
	e.queues[size] = append(q, entry)
	log.Info("player queued")

	e.sched.schedule(e.opts.FallbackDelay, task{
		kind:   taskAIFallback,
		target: playerID,
		guard:  func() bool { return e.waiting(size, entry.seq) },
		run: func() {
			e.dequeue(size, entry.seq)
			e.startAI(size, entry)
		},
	})
}

// startHuman pairs two players. x waited first and moves first.
func (e *Engine) startHuman(size int, x, o waitingEntry) {
	s := session.NewHuman(size, x.playerID, o.playerID, x.conn, o.conn, e.now())
	e.sessions.Add(s)
	e.disconnect(x.conn.ID())
	e.disconnect(o.conn.ID())

	e.log.Info("game started",
		zap.String("session", s.ID),
		zap.String("x", x.playerID),
		zap.String("o", o.playerID),
		zap.Int("size", size),
	)
	x.conn.Send(MsgGameStart, GameStart{
		SessionID: s.ID,
		Size:      size,
		Opponent:  o.playerID,
		Symbol:    tictactoe.X,
		Turn:      s.Turn,
	})
	o.conn.Send(MsgGameStart, GameStart{
		SessionID: s.ID,
		Size:      size,
		Opponent:  x.playerID,
		Symbol:    tictactoe.O,
		Turn:      s.Turn,
	})
}

// startAI gives a player who waited too long the computer as opponent.
func (e *Engine) startAI(size int, w waitingEntry) {
	s := session.NewAI(size, w.playerID, w.conn, e.now())
	e.sessions.Add(s)
	e.disconnect(w.conn.ID())

	e.log.Info("ai game started",
		zap.String("session", s.ID),
		zap.String("player", w.playerID),
		zap.Int("size", size),
	)
	w.conn.Send(MsgGameStart, GameStart{
		SessionID: s.ID,
		Size:      size,
		Opponent:  game.AIOpponentName,
		Symbol:    tictactoe.X,
		Turn:      s.Turn,
		IsAI:      true,
	})
}

func (e *Engine) waiting(size int, seq uint64) bool {
	for _, w := range e.queues[size] {
		if w.seq == seq {
			return true
		}
	}
	return false
}

func (e *Engine) dequeue(size int, seq uint64) {
	q := e.queues[size]
	for i, w := range q {
		if w.seq == seq {
			e.queues[size] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// disconnect drops every queue entry held by connID. Live sessions are left alone.
func (e *Engine) disconnect(connID string) {
	for size, q := range e.queues {
		kept := q[:0:0]
		for _, w := range q {
			if w.conn.ID() != connID {
				kept = append(kept, w)
			}
		}
		if len(kept) != len(q) {
			e.log.Debug("removed queue entry", zap.String("conn", connID), zap.Int("size", size))
			e.queues[size] = kept
		}
	}
}
