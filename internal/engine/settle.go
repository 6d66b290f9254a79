package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"xox/internal/session"
	"xox/internal/storage"
)

// Points per game result. An NFT holder's award is multiplied by
// NFTMultiplier and their referrer receives ReferralShare of it.
const (
	WinPoints     = 3.0
	DrawPoints    = 1.0
	NFTMultiplier = 2.0
	ReferralShare = 0.5
)

// settle awards points, tells both sides the result and drops the session.
// winner is nil for a draw. Settling an unknown session is a no-op.
func (e *Engine) settle(sessionID string, winner *string) {
	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}

	if winner != nil {
		if *winner != session.AIPlayer {
			e.award(*winner, WinPoints)
		}
	} else {
		for _, p := range s.Humans() {
			e.award(p, DrawPoints)
		}
	}
	e.record(s, winner)

	s.Broadcast(MsgGameOver, GameOver{Winner: winner, Board: s.Board.Clone()})
	e.sessions.Remove(s.ID)

	fields := []zap.Field{zap.String("session", s.ID)}
	if winner != nil {
		fields = append(fields, zap.String("winner", *winner))
	} else {
		fields = append(fields, zap.Bool("draw", true))
	}
	e.log.Info("game over", fields...)
}

// award credits base points, doubled for NFT holders, plus half of that to
// the player's referrer. The two writes are independent; a failure loses
// points but never interrupts settlement.
func (e *Engine) award(address string, base float64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
	defer cancel()
	log := e.log.With(zap.String("address", address))

	u, err := e.users.GetUser(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("no user record, skipping award")
		return
	}
	if err != nil {
		log.Error("load user for award", zap.Error(err))
		return
	}

	multiplier := 1.0
	if u.HasNFT {
		multiplier = NFTMultiplier
	}
	points := base * multiplier
	if err := e.users.AddPoints(ctx, address, points); err != nil {
		log.Error("add points", zap.Float64("points", points), zap.Error(err))
		return
	}

	if u.Referrer != nil {
		bonus := points * ReferralShare
		if err := e.users.AddPoints(ctx, *u.Referrer, bonus); err != nil {
			log.Error("add referral bonus", zap.String("referrer", *u.Referrer), zap.Float64("points", bonus), zap.Error(err))
		}
	}
}

func (e *Engine) record(s *session.Session, winner *string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
	defer cancel()
	err := e.users.RecordGame(ctx, storage.GameRecord{
		ID:        s.ID,
		Player1:   s.Players[0],
		Player2:   s.Players[1],
		Winner:    winner,
		CreatedAt: s.CreatedAt,
	})
	if err != nil {
		e.log.Error("record game", zap.String("session", s.ID), zap.Error(err))
	}
}
