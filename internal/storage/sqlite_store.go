package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS poll_states (
	platform   TEXT NOT NULL,
	target     TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (platform, target)
);
CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber  TEXT NOT NULL,
	scope       TEXT NOT NULL,
	platform    TEXT NOT NULL,
	target      TEXT NOT NULL,
	target_name TEXT NOT NULL,
	categories  TEXT NOT NULL,
	tags        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (subscriber, scope, platform, target)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_platform ON subscriptions(platform);
`

// sqliteStore implements a Store on top of modernc.org/sqlite.
type sqliteStore struct {
	db              *sql.DB
	cleanupMu       sync.Mutex
	lastCleanup     time.Time
	pollStateTTL    time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

func openSQLite(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &sqliteStore{
		db:              db,
		lastCleanup:     opts.Now(),
		pollStateTTL:    opts.PollStateTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             opts.Now,
	}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetPollState(ctx context.Context, platform string, target domain.Target) (domain.PollState, bool, error) {
	if err := s.maybeCleanupExpired(ctx); err != nil {
		return domain.PollState{}, false, err
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM poll_states WHERE platform = ? AND target = ?`, platform, string(target)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PollState{}, false, nil
	}
	if err != nil {
		return domain.PollState{}, false, fmt.Errorf("query poll state: %w", err)
	}

	var state domain.PollState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.PollState{}, false, fmt.Errorf("decode poll state %s/%s: %w", platform, target, err)
	}
	return state, true, nil
}

func (s *sqliteStore) PutPollState(ctx context.Context, platform string, target domain.Target, state domain.PollState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now()
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode poll state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO poll_states (platform, target, state, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (platform, target) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		platform, string(target), string(raw), state.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert poll state: %w", err)
	}
	return nil
}

func (s *sqliteStore) maybeCleanupExpired(ctx context.Context) error {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	now := s.now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return nil
	}
	cutoff := now.Add(-s.pollStateTTL).Unix()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM poll_states WHERE updated_at < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup poll states: %w", err)
	}
	s.lastCleanup = now
	return nil
}

const subscriptionColumns = `subscriber, scope, platform, target, target_name, categories, tags, created_at`

func scanSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var (
			sub           domain.Subscription
			scope, target string
			cats, tags    string
			createdAt     int64
		)
		if err := rows.Scan(&sub.Subscriber, &scope, &sub.Platform, &target, &sub.TargetName, &cats, &tags, &createdAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Scope = domain.Scope(scope)
		sub.Target = domain.Target(target)
		sub.CreatedAt = time.Unix(createdAt, 0).UTC()
		if err := json.Unmarshal([]byte(cats), &sub.Categories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &sub.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, subscriber string, scope domain.Scope) ([]domain.Subscription, error) {
	return s.listSubscriptions(ctx, s.db, subscriber, scope)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) listSubscriptions(ctx context.Context, q queryer, subscriber string, scope domain.Scope) ([]domain.Subscription, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
WHERE subscriber = ? AND scope = ? ORDER BY platform, target`, subscriber, string(scope))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

func (s *sqliteStore) AddSubscription(ctx context.Context, sub domain.Subscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	cats, err := json.Marshal(nonNilCategories(sub.Categories))
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	tags, err := json.Marshal(nonNilTags(sub.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		sub.Subscriber, string(sub.Scope), sub.Platform, string(sub.Target), sub.TargetName,
		string(cats), string(tags), sub.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if n == 0 {
		return domain.ErrDuplicateSubscription
	}
	return nil
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, subscriber string, scope domain.Scope, index int) (domain.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	subs, err := s.listSubscriptions(ctx, tx, subscriber, scope)
	if err != nil {
		return domain.Subscription{}, err
	}
	if index < 1 || index > len(subs) {
		return domain.Subscription{}, domain.ErrIndexOutOfRange
	}
	victim := subs[index-1]
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber = ? AND scope = ? AND platform = ? AND target = ?`,
		victim.Subscriber, string(victim.Scope), victim.Platform, string(victim.Target)); err != nil {
		return domain.Subscription{}, fmt.Errorf("delete subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Subscription{}, fmt.Errorf("commit delete: %w", err)
	}
	return victim, nil
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
WHERE subscriber = ? AND scope = ? AND platform = ? AND target = ?`,
		key.Subscriber, string(key.Scope), key.Platform, string(key.Target))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("query subscription: %w", err)
	}
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return domain.Subscription{}, err
	}
	if len(subs) == 0 {
		return domain.Subscription{}, domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber = ? AND scope = ? AND platform = ? AND target = ?`,
		key.Subscriber, string(key.Scope), key.Platform, string(key.Target)); err != nil {
		return domain.Subscription{}, fmt.Errorf("delete subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Subscription{}, fmt.Errorf("commit remove: %w", err)
	}
	return subs[0], nil
}

func (s *sqliteStore) SubscriptionsForPlatform(ctx context.Context, platform string) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
WHERE platform = ? ORDER BY platform, target, subscriber, scope`, platform)
	if err != nil {
		return nil, fmt.Errorf("query platform subscriptions: %w", err)
	}
	return scanSubscriptions(rows)
}

func nonNilCategories(c []domain.Category) []domain.Category {
	if c == nil {
		return []domain.Category{}
	}
	return c
}

func nonNilTags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}
