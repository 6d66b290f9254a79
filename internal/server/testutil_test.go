package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"xox/internal/engine"
	"xox/internal/game"
	"xox/internal/logging"
	"xox/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts     *httptest.Server
	store  *storage.Store
	engine *engine.Engine
}

var testNow = time.UnixMilli(1_700_000_000_000)

func setupTestEnv(t *testing.T, fallback time.Duration) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// handler goroutines outlive the test after a hijack, so they must not log through t
	logger := zap.NewNop()
	variants := game.DefaultRegistry()
	eng := engine.New(engine.Options{
		Users:         store,
		Variants:      variants,
		Logger:        logger,
		FallbackDelay: fallback,
		AIMoveDelay:   10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	srv := New(store, eng, variants, logger, Options{
		DBPath:             ":memory:",
		Env:                "development",
		DeployMarker:       "test-marker",
		NFTSupply:          2,
		SubscriptionPeriod: 30 * 24 * time.Hour,
		Now:                func() time.Time { return testNow },
	})
	ts := httptest.NewServer(logging.RequestLogger(logger, srv))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return &testEnv{ts: ts, store: store, engine: eng}
}

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func postJSON(t *testing.T, url, body string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

// wsDial opens a websocket. The caller is responsible for closing it.
func wsDial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// wsSend marshals and writes a typed message, calling t.Fatal on error.
func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := encodeWS(msgType, payload)
	if err != nil {
		t.Fatalf("marshal ws message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads and unmarshals a WebSocket message, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v", err)
	}
	return msg
}

// readAs reads the next message, checks its type and decodes the payload into out.
func readAs(ctx context.Context, t *testing.T, conn *websocket.Conn, msgType string, out any) {
	t.Helper()
	msg := wsRead(ctx, t, conn)
	if msg.Type != msgType {
		t.Fatalf("expected %s message, got %q: %s", msgType, msg.Type, string(msg.Payload))
	}
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		t.Fatalf("unmarshal %s payload: %v", msgType, err)
	}
}

func joinQueue(ctx context.Context, t *testing.T, conn *websocket.Conn, playerID string, size int) {
	t.Helper()
	wsSend(ctx, t, conn, msgJoinQueue, joinQueuePayload{PlayerID: playerID, Size: size})
}

func makeMove(ctx context.Context, t *testing.T, conn *websocket.Conn, sessionID string, cell int, playerID string) {
	t.Helper()
	wsSend(ctx, t, conn, msgMakeMove, makeMovePayload{SessionID: sessionID, CellIndex: &cell, PlayerID: playerID})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func seedUser(t *testing.T, store *storage.Store, address string) {
	t.Helper()
	if _, err := store.EnsureUser(context.Background(), address); err != nil {
		t.Fatalf("seed user %s: %v", address, err)
	}
}

func userPoints(t *testing.T, store *storage.Store, address string) float64 {
	t.Helper()
	u, err := store.GetUser(context.Background(), address)
	if err != nil {
		t.Fatalf("get user %s: %v", address, err)
	}
	return u.Points
}
