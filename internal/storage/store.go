package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrReferrerSet  = errors.New("referrer already set")
	ErrSelfReferral = errors.New("cannot refer yourself")
)

// User is a wallet address and its points ledger.
type User struct {
	Address            string  `json:"address"`
	Points             float64 `json:"points"`
	IsSubscribed       bool    `json:"is_subscribed"`
	SubscriptionExpiry int64   `json:"subscription_expiry"` // unix millis
	HasNFT             bool    `json:"has_nft"`
	Referrer           *string `json:"referrer"`
	LastCheckin        int64   `json:"last_checkin"`
	Streak             int     `json:"streak"`
}

// Ranking is one leaderboard row.
type Ranking struct {
	Address string  `json:"address"`
	Points  float64 `json:"points"`
}

// GameRecord is a finished game.
type GameRecord struct {
	ID        string    `json:"id"`
	Player1   string    `json:"player1"`
	Player2   string    `json:"player2"`
	Winner    *string   `json:"winner"` // nil for a draw
	CreatedAt time.Time `json:"createdAt"`
}

// Store handles SQLite persistence.
type Store struct {
	db *sql.DB
}

// busyTimeoutMillis is how long a connection waits for another writer's lock.
const busyTimeoutMillis = 5000

// dsn adds per-connection pragmas to a file path. Transactions start with
// BEGIN IMMEDIATE so a read-then-write transaction holds the write lock from
// the start and waits on busy_timeout instead of failing mid-way.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_txlock=immediate", path, sep, busyTimeoutMillis)
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			address             TEXT PRIMARY KEY,
			points              REAL NOT NULL DEFAULT 0,
			is_subscribed       BOOLEAN NOT NULL DEFAULT 0,
			subscription_expiry INTEGER NOT NULL DEFAULT 0,
			has_nft             BOOLEAN NOT NULL DEFAULT 0,
			referrer            TEXT,
			last_checkin        INTEGER NOT NULL DEFAULT 0,
			streak              INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS games (
			id         TEXT PRIMARY KEY,
			player1    TEXT NOT NULL,
			player2    TEXT NOT NULL,
			winner     TEXT,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

const userColumns = "address, points, is_subscribed, subscription_expiry, has_nft, referrer, last_checkin, streak"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var referrer sql.NullString
	if err := row.Scan(&u.Address, &u.Points, &u.IsSubscribed, &u.SubscriptionExpiry,
		&u.HasNFT, &referrer, &u.LastCheckin, &u.Streak); err != nil {
		return nil, err
	}
	if referrer.Valid && referrer.String != "" {
		u.Referrer = &referrer.String
	}
	return &u, nil
}

// GetUser retrieves a user by address.
func (s *Store) GetUser(ctx context.Context, address string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE address = ?", address)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", address, err)
	}
	return u, nil
}

// EnsureUser inserts a user with default values if absent. created reports whether a row was added.
func (s *Store) EnsureUser(ctx context.Context, address string) (created bool, err error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (address) VALUES (?) ON CONFLICT(address) DO NOTHING", address)
	if err != nil {
		return false, fmt.Errorf("ensure user %s: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddPoints adds amount to a user's total. Unknown addresses are left untouched.
func (s *Store) AddPoints(ctx context.Context, address string, amount float64) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET points = points + ? WHERE address = ?", amount, address); err != nil {
		return fmt.Errorf("add points to %s: %w", address, err)
	}
	return nil
}

// Leaderboard returns the top users by points.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Ranking, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT address, points FROM users ORDER BY points DESC, address ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()
	result := []Ranking{}
	for rows.Next() {
		var r Ranking
		if err := rows.Scan(&r.Address, &r.Points); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Rank returns the user's position by points (ties share a rank).
func (s *Store) Rank(ctx context.Context, address string) (int, error) {
	var rank int
	err := s.db.QueryRowContext(ctx, `
		SELECT rank FROM (
			SELECT address, RANK() OVER (ORDER BY points DESC) AS rank FROM users
		) WHERE address = ?
	`, address).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("rank %s: %w", address, err)
	}
	return rank, nil
}

// Subscribe marks a user subscribed until expiry. The NFT is granted while
// fewer than nftSupply users are subscribed.
func (s *Store) Subscribe(ctx context.Context, address string, expiry time.Time, nftSupply int) (hasNFT bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin subscribe: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE is_subscribed = 1").Scan(&count); err != nil {
		return false, fmt.Errorf("count subscribers: %w", err)
	}
	hasNFT = count < nftSupply

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET is_subscribed = 1, subscription_expiry = ?, has_nft = ? WHERE address = ?",
		expiry.UnixMilli(), hasNFT, address,
	)
	if err != nil {
		return false, fmt.Errorf("subscribe %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}
	return hasNFT, tx.Commit()
}

// ExpireSubscriptions clears the subscription flag on lapsed users and returns how many changed.
// The NFT stays with its holder.
func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_subscribed = 0 WHERE is_subscribed = 1 AND subscription_expiry < ?",
		now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// SetReferrer records who referred address. It can be set only once.
func (s *Store) SetReferrer(ctx context.Context, address, referrer string) error {
	if strings.EqualFold(address, referrer) {
		return ErrSelfReferral
	}
	u, err := s.GetUser(ctx, address)
	if err != nil {
		return err
	}
	if u.Referrer != nil {
		return ErrReferrerSet
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET referrer = ? WHERE address = ? AND (referrer IS NULL OR referrer = '')",
		referrer, address,
	)
	if err != nil {
		return fmt.Errorf("set referrer for %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReferrerSet
	}
	return nil
}

// RecordGame stores a finished game.
func (s *Store) RecordGame(ctx context.Context, g GameRecord) error {
	var winner sql.NullString
	if g.Winner != nil {
		winner = sql.NullString{String: *g.Winner, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO games (id, player1, player2, winner, created_at) VALUES (?, ?, ?, ?, ?)",
		g.ID, g.Player1, g.Player2, winner, g.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record game %s: %w", g.ID, err)
	}
	return nil
}

// RecentGames returns the latest finished games involving address.
func (s *Store) RecentGames(ctx context.Context, address string, limit int) ([]GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player1, player2, winner, created_at FROM games
		WHERE player1 = ? OR player2 = ?
		ORDER BY created_at DESC LIMIT ?
	`, address, address, limit)
	if err != nil {
		return nil, fmt.Errorf("recent games: %w", err)
	}
	defer rows.Close()
	var result []GameRecord
	for rows.Next() {
		var g GameRecord
		var winner sql.NullString
		var created int64
		if err := rows.Scan(&g.ID, &g.Player1, &g.Player2, &winner, &created); err != nil {
			return nil, err
		}
		if winner.Valid {
			g.Winner = &winner.String
		}
		g.CreatedAt = time.UnixMilli(created)
		result = append(result, g)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
