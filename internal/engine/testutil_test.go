package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"xox/internal/storage"
)

// --- Connections ---

type sentMsg struct {
	typ     string
	payload any
}

// fakeConn records what the engine sends. Only used from the test goroutine.
type fakeConn struct {
	id   string
	msgs []sentMsg
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msgType string, payload any) {
	c.msgs = append(c.msgs, sentMsg{typ: msgType, payload: payload})
}

func (c *fakeConn) count(typ string) int {
	n := 0
	for _, m := range c.msgs {
		if m.typ == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) starts() []GameStart {
	var out []GameStart
	for _, m := range c.msgs {
		if m.typ == MsgGameStart {
			out = append(out, m.payload.(GameStart))
		}
	}
	return out
}

func (c *fakeConn) lastUpdate(t *testing.T) GameUpdate {
	t.Helper()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].typ == MsgGameUpdate {
			return c.msgs[i].payload.(GameUpdate)
		}
	}
	t.Fatalf("no %s sent to %s", MsgGameUpdate, c.id)
	return GameUpdate{}
}

func (c *fakeConn) gameOver(t *testing.T) GameOver {
	t.Helper()
	for _, m := range c.msgs {
		if m.typ == MsgGameOver {
			return m.payload.(GameOver)
		}
	}
	t.Fatalf("no %s sent to %s", MsgGameOver, c.id)
	return GameOver{}
}

// --- Scheduler ---

type scheduled struct {
	delay time.Duration
	t     task
}

// manualScheduler holds tasks until the test fires them.
type manualScheduler struct {
	pending []scheduled
}

func (m *manualScheduler) schedule(d time.Duration, t task) {
	m.pending = append(m.pending, scheduled{delay: d, t: t})
}

// fireAll runs pending tasks in scheduling order, including any they schedule.
func (m *manualScheduler) fireAll(e *Engine) {
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		e.fire(next.t)
	}
}

// --- User store ---

type memUsers struct {
	users   map[string]*storage.User
	games   []storage.GameRecord
	failAdd error
	failGet error
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*storage.User)}
}

func (m *memUsers) add(address string, hasNFT bool, referrer string) *storage.User {
	u := &storage.User{Address: address, HasNFT: hasNFT}
	if referrer != "" {
		u.Referrer = &referrer
	}
	m.users[address] = u
	return u
}

func (m *memUsers) points(address string) float64 {
	if u, ok := m.users[address]; ok {
		return u.Points
	}
	return 0
}

func (m *memUsers) GetUser(ctx context.Context, address string) (*storage.User, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	u, ok := m.users[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) AddPoints(ctx context.Context, address string, amount float64) error {
	if m.failAdd != nil {
		return m.failAdd
	}
	if u, ok := m.users[address]; ok {
		u.Points += amount
	}
	return nil
}

func (m *memUsers) RecordGame(ctx context.Context, g storage.GameRecord) error {
	m.games = append(m.games, g)
	return nil
}

var errStoreDown = errors.New("store down")

// --- Engine ---

type testEngine struct {
	*Engine
	users *memUsers
	sched *manualScheduler
	clock *time.Time
}

// advance moves the engine clock forward by d.
func (te *testEngine) advance(d time.Duration) {
	*te.clock = te.clock.Add(d)
}

// newTestEngine returns an engine whose handlers are called directly from
// the test, with timers under manual control and a deterministic AI.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	users := newMemUsers()
	clock := time.UnixMilli(1700000000000)
	e := New(Options{
		Users:  users,
		Logger: zaptest.NewLogger(t),
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	})
	sched := &manualScheduler{}
	e.sched = sched
	return &testEngine{Engine: e, users: users, sched: sched, clock: &clock}
}

// pair queues a and b for size and returns the session id.
func (te *testEngine) pair(t *testing.T, size int, a, b *fakeConn, aID, bID string) string {
	t.Helper()
	te.joinQueue(a, aID, size)
	te.joinQueue(b, bID, size)
	starts := a.starts()
	require.Len(t, starts, 1)
	return starts[0].SessionID
}
