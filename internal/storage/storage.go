// Package storage persists poll states and subscriptions.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

// PollStateStore persists detection state per (platform, target).
type PollStateStore interface {
	// GetPollState returns the stored state; ok is false when the target was never polled.
	GetPollState(ctx context.Context, platform string, target domain.Target) (state domain.PollState, ok bool, err error)
	PutPollState(ctx context.Context, platform string, target domain.Target, state domain.PollState) error
}

// SubscriptionStore persists subscriptions keyed by (subscriber, scope, platform, target).
type SubscriptionStore interface {
	// ListSubscriptions returns the subscriber's subscriptions in stable index order.
	ListSubscriptions(ctx context.Context, subscriber string, scope domain.Scope) ([]domain.Subscription, error)
	// AddSubscription inserts sub, returning domain.ErrDuplicateSubscription when the key exists.
	AddSubscription(ctx context.Context, sub domain.Subscription) error
	// DeleteSubscription removes the 1-based index of ListSubscriptions.
	DeleteSubscription(ctx context.Context, subscriber string, scope domain.Scope, index int) (domain.Subscription, error)
	// RemoveSubscription deletes the subscription stored under key, returning
	// domain.ErrNotFound when it is already gone.
	RemoveSubscription(ctx context.Context, key domain.SubscriptionKey) (domain.Subscription, error)
	// SubscriptionsForPlatform returns every subscription on a platform.
	SubscriptionsForPlatform(ctx context.Context, platform string) ([]domain.Subscription, error)
}

// Store is the full persistence surface.
type Store interface {
	PollStateStore
	SubscriptionStore
	Close() error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	PollStateTTL    time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

const (
	defaultPollStateTTL    = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "memory":
		return newMemoryStore(opts), nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	case "sqlite":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return openSQLite(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.PollStateTTL <= 0 {
		opts.PollStateTTL = defaultPollStateTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}

// sortSubscriptions orders subscriptions by (platform, target), the index order shown to users.
func sortSubscriptions(subs []domain.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Platform != subs[j].Platform {
			return subs[i].Platform < subs[j].Platform
		}
		if subs[i].Target != subs[j].Target {
			return subs[i].Target < subs[j].Target
		}
		if subs[i].Subscriber != subs[j].Subscriber {
			return subs[i].Subscriber < subs[j].Subscriber
		}
		return subs[i].Scope < subs[j].Scope
	})
}

func validateSubscription(sub domain.Subscription) error {
	if strings.TrimSpace(sub.Subscriber) == "" {
		return fmt.Errorf("subscription subscriber is empty")
	}
	if strings.TrimSpace(sub.Platform) == "" {
		return fmt.Errorf("subscription platform is empty")
	}
	if strings.TrimSpace(string(sub.Target)) == "" {
		return fmt.Errorf("subscription target is empty")
	}
	return nil
}
