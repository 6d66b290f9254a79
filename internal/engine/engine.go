// Package engine runs matchmaking and live games on a single reactor goroutine.
//
// Every queue or session mutation executes inside Run, one closure at a time,
// so neither the queues nor the sessions are locked. Transport handlers and
// timers hand work to the reactor through post.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"xox/internal/game"
	"xox/internal/game/ai"
	"xox/internal/session"
	"xox/internal/storage"
)

// ErrStopped is returned by calls that need the reactor after Run returned.
var ErrStopped = errors.New("engine stopped")

// UserStore is the persistence the engine needs for settlement.
type UserStore interface {
	GetUser(ctx context.Context, address string) (*storage.User, error)
	AddPoints(ctx context.Context, address string, amount float64) error
	RecordGame(ctx context.Context, g storage.GameRecord) error
}

// Options configures an Engine. Zero durations fall back to the defaults.
type Options struct {
	Users         UserStore
	Variants      *game.Registry
	Logger        *zap.Logger
	FallbackDelay time.Duration // wait before an unmatched player gets the AI
	AIMoveDelay   time.Duration // pause before the AI answers
	StoreTimeout  time.Duration
	Randomness    float64 // chance the AI plays a random cell
	Rand          ai.Rand
	Now           func() time.Time
}

// Defaults for the zero values in Options.
const (
	DefaultFallbackDelay = 5 * time.Second
	DefaultAIMoveDelay   = 500 * time.Millisecond
	DefaultStoreTimeout  = 2 * time.Second
)

// Engine owns the waiting queues and the live session store.
type Engine struct {
	opts     Options
	users    UserStore
	variants *game.Registry
	log      *zap.Logger
	ai       *ai.Selector
	now      func() time.Time

	sessions *session.Store
	queues   map[int][]waitingEntry
	seq      uint64

	sched  scheduler
	events chan func()
	done   chan struct{}
}

// New creates an engine. Call Run to start processing.
func New(opts Options) *Engine {
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = DefaultFallbackDelay
	}
	if opts.AIMoveDelay <= 0 {
		opts.AIMoveDelay = DefaultAIMoveDelay
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Variants == nil {
		opts.Variants = game.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:     opts,
		users:    opts.Users,
		variants: opts.Variants,
		log:      opts.Logger.Named("engine"),
		ai:       ai.NewSelector(opts.Rand, opts.Randomness),
		now:      opts.Now,
		sessions: session.NewStore(),
		queues:   make(map[int][]waitingEntry),
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
	}
	for _, size := range e.variants.Sizes() {
		e.queues[size] = nil
	}
	e.sched = timerScheduler{e: e}
	return e
}

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.log.Info("engine started",
		zap.Ints("sizes", e.variants.Sizes()),
		zap.Duration("fallback_delay", e.opts.FallbackDelay),
	)
	for {
		select {
		case fn := <-e.events:
			e.safely(fn)
		case <-ctx.Done():
			e.log.Info("engine stopped", zap.Int("sessions", e.sessions.Len()))
			return ctx.Err()
		}
	}
}

func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// post queues fn for the reactor. It reports false once the engine has stopped.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

// JoinQueue asks for a game of the given board size.
func (e *Engine) JoinQueue(conn session.Conn, playerID string, size int) {
	e.post(func() { e.joinQueue(conn, playerID, size) })
}

// MakeMove submits a move. Invalid moves are dropped silently.
func (e *Engine) MakeMove(sessionID string, cell int, playerID string) {
	e.post(func() { e.makeMove(sessionID, cell, playerID) })
}

// Disconnect removes a closed connection from every queue.
func (e *Engine) Disconnect(connID string) {
	e.post(func() { e.disconnect(connID) })
}

// Stats is a snapshot of the engine's load.
type Stats struct {
	Queued   map[int]int `json:"queued"`
	Sessions int         `json:"sessions"`
}

// Stats returns a snapshot taken on the reactor.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !e.post(func() { reply <- e.stats() }) {
		return Stats{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-e.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (e *Engine) stats() Stats {
	st := Stats{Queued: make(map[int]int, len(e.queues)), Sessions: e.sessions.Len()}
	for size, q := range e.queues {
		st.Queued[size] = len(q)
	}
	return st
}

// Session returns a snapshot of a live session. ok is false once the game has ended.
func (e *Engine) Session(ctx context.Context, id string) (info session.Info, ok bool, err error) {
	type result struct {
		info session.Info
		ok   bool
	}
	reply := make(chan result, 1)
	if !e.post(func() {
		s, ok := e.sessions.Get(id)
		if !ok {
			reply <- result{}
			return
		}
		reply <- result{info: s.Info(), ok: true}
	}) {
		return session.Info{}, false, ErrStopped
	}
	select {
	case r := <-reply:
		return r.info, r.ok, nil
	case <-e.done:
		return session.Info{}, false, ErrStopped
	case <-ctx.Done():
		return session.Info{}, false, ctx.Err()
	}
}

// Sessions returns snapshots of every live session.
func (e *Engine) Sessions(ctx context.Context) ([]session.Info, error) {
	reply := make(chan []session.Info, 1)
	if !e.post(func() { reply <- e.sessions.List() }) {
		return nil, ErrStopped
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-e.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExpireIdle ends every session with no move for maxIdle and returns how many
// were removed. Nothing is settled or recorded for an expired session.
func (e *Engine) ExpireIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	reply := make(chan int, 1)
	if !e.post(func() { reply <- e.expireIdle(maxIdle) }) {
		return 0, ErrStopped
	}
	select {
	case n := <-reply:
		return n, nil
	case <-e.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) expireIdle(maxIdle time.Duration) int {
	idle := e.sessions.IdleSince(e.now().Add(-maxIdle))
	for _, s := range idle {
		e.sessions.Remove(s.ID)
		e.log.Info("idle session expired",
			zap.String("session", s.ID),
			zap.Strings("players", s.Players[:]),
			zap.Time("last_active", s.LastActive),
		)
	}
	return len(idle)
}
