package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	pollStateBucket    = "poll_states"
	subscriptionBucket = "subscriptions"
	keySep             = "\x00"
)

// boltStore implements a Store backed by BoltDB. Every read-modify-write runs inside
// a single Update transaction, so concurrent writers never interleave on a key.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	pollStateTTL    time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{pollStateBucket, subscriptionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	store := &boltStore{
		db:              db,
		pollStateTTL:    opts.PollStateTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             opts.Now,
	}
	store.lastCleanup.Store(store.now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func pollStateKey(platform string, target domain.Target) []byte {
	return []byte(platform + keySep + string(target))
}

func subscriptionPrefix(subscriber string, scope domain.Scope) []byte {
	return []byte(subscriber + keySep + string(scope) + keySep)
}

func subscriptionKey(k domain.SubscriptionKey) []byte {
	return append(subscriptionPrefix(k.Subscriber, k.Scope), []byte(k.Platform+keySep+string(k.Target))...)
}

func bucketOf(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("%s bucket missing", name)
	}
	return bucket, nil
}

// GetPollState loads the detection state of a target.
func (b *boltStore) GetPollState(_ context.Context, platform string, target domain.Target) (domain.PollState, bool, error) {
	if err := b.maybeCleanupExpired(b.now()); err != nil {
		return domain.PollState{}, false, err
	}

	var (
		state domain.PollState
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket, err := bucketOf(tx, pollStateBucket)
		if err != nil {
			return err
		}
		raw := bucket.Get(pollStateKey(platform, target))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decode poll state %s/%s: %w", platform, target, err)
		}
		found = true
		return nil
	})
	return state, found, err
}

// PutPollState stores the detection state of a target.
func (b *boltStore) PutPollState(_ context.Context, platform string, target domain.Target, state domain.PollState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = b.now()
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode poll state: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bucketOf(tx, pollStateBucket)
		if err != nil {
			return err
		}
		return bucket.Put(pollStateKey(platform, target), raw)
	})
}

// maybeCleanupExpired removes poll states of targets nobody polled within the TTL,
// on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bucketOf(tx, pollStateBucket)
		if err != nil {
			return err
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var state domain.PollState
			if err := json.Unmarshal(v, &state); err != nil || now.Sub(state.UpdatedAt) > b.pollStateTTL {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// ListSubscriptions returns subscriptions of a subscriber ordered by (platform, target).
func (b *boltStore) ListSubscriptions(_ context.Context, subscriber string, scope domain.Scope) ([]domain.Subscription, error) {
	var out []domain.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = listByPrefix(tx, subscriptionPrefix(subscriber, scope))
		return err
	})
	return out, err
}

func listByPrefix(tx *bolt.Tx, prefix []byte) ([]domain.Subscription, error) {
	bucket, err := bucketOf(tx, subscriptionBucket)
	if err != nil {
		return nil, err
	}

	var out []domain.Subscription
	cursor := bucket.Cursor()
	k, v := cursor.First()
	if len(prefix) > 0 {
		k, v = cursor.Seek(prefix)
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		var sub domain.Subscription
		if err := json.Unmarshal(v, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription %q: %w", strings.ReplaceAll(string(k), keySep, "/"), err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// AddSubscription inserts the subscription unless its key already exists.
func (b *boltStore) AddSubscription(_ context.Context, sub domain.Subscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = b.now()
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bucketOf(tx, subscriptionBucket)
		if err != nil {
			return err
		}
		key := subscriptionKey(sub.Key())
		if bucket.Get(key) != nil {
			return domain.ErrDuplicateSubscription
		}
		return bucket.Put(key, raw)
	})
}

// DeleteSubscription removes the index-th (1-based) subscription of a subscriber.
func (b *boltStore) DeleteSubscription(_ context.Context, subscriber string, scope domain.Scope, index int) (domain.Subscription, error) {
	var victim domain.Subscription
	err := b.db.Update(func(tx *bolt.Tx) error {
		subs, err := listByPrefix(tx, subscriptionPrefix(subscriber, scope))
		if err != nil {
			return err
		}
		if index < 1 || index > len(subs) {
			return domain.ErrIndexOutOfRange
		}
		victim = subs[index-1]
		bucket, err := bucketOf(tx, subscriptionBucket)
		if err != nil {
			return err
		}
		return bucket.Delete(subscriptionKey(victim.Key()))
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return victim, nil
}

// RemoveSubscription deletes the subscription stored under key.
func (b *boltStore) RemoveSubscription(_ context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	var victim domain.Subscription
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bucketOf(tx, subscriptionBucket)
		if err != nil {
			return err
		}
		k := subscriptionKey(key)
		raw := bucket.Get(k)
		if raw == nil {
			return domain.ErrNotFound
		}
		if err := json.Unmarshal(raw, &victim); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return bucket.Delete(k)
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return victim, nil
}

// SubscriptionsForPlatform scans every subscription of a platform.
func (b *boltStore) SubscriptionsForPlatform(_ context.Context, platform string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	err := b.db.View(func(tx *bolt.Tx) error {
		all, err := listByPrefix(tx, nil)
		if err != nil {
			return err
		}
		for _, sub := range all {
			if sub.Platform == platform {
				out = append(out, sub)
			}
		}
		return nil
	})
	sortSubscriptions(out)
	return out, err
}
