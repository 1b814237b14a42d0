package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

type pollKey struct {
	platform string
	target   domain.Target
}

// memoryStore keeps everything in process memory; used by tests and dry runs.
type memoryStore struct {
	mu          sync.Mutex
	pollStates  map[pollKey]domain.PollState
	subs        map[domain.SubscriptionKey]domain.Subscription
	opts        Options
	lastCleanup int64
}

func newMemoryStore(opts Options) *memoryStore {
	return &memoryStore{
		pollStates:  make(map[pollKey]domain.PollState),
		subs:        make(map[domain.SubscriptionKey]domain.Subscription),
		opts:        opts,
		lastCleanup: opts.Now().Unix(),
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) GetPollState(_ context.Context, platform string, target domain.Target) (domain.PollState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()
	state, ok := m.pollStates[pollKey{platform, target}]
	state.SeenIDs = slices.Clone(state.SeenIDs)
	return state, ok, nil
}

func (m *memoryStore) PutPollState(_ context.Context, platform string, target domain.Target, state domain.PollState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = m.opts.Now()
	}
	state.SeenIDs = slices.Clone(state.SeenIDs)
	m.pollStates[pollKey{platform, target}] = state
	return nil
}

// cleanupLocked drops poll states nobody updated within the TTL.
func (m *memoryStore) cleanupLocked() {
	now := m.opts.Now()
	if now.Unix()-m.lastCleanup < int64(m.opts.CleanupInterval.Seconds()) {
		return
	}
	for k, st := range m.pollStates {
		if now.Sub(st.UpdatedAt) > m.opts.PollStateTTL {
			delete(m.pollStates, k)
		}
	}
	m.lastCleanup = now.Unix()
}

func (m *memoryStore) ListSubscriptions(_ context.Context, subscriber string, scope domain.Scope) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(subscriber, scope), nil
}

func (m *memoryStore) listLocked(subscriber string, scope domain.Scope) []domain.Subscription {
	var out []domain.Subscription
	for k, sub := range m.subs {
		if k.Subscriber == subscriber && k.Scope == scope {
			out = append(out, sub)
		}
	}
	sortSubscriptions(out)
	return out
}

func (m *memoryStore) AddSubscription(_ context.Context, sub domain.Subscription) error {
	if err := validateSubscription(sub); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.Key()]; exists {
		return domain.ErrDuplicateSubscription
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.opts.Now()
	}
	m.subs[sub.Key()] = sub
	return nil
}

func (m *memoryStore) DeleteSubscription(_ context.Context, subscriber string, scope domain.Scope, index int) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.listLocked(subscriber, scope)
	if index < 1 || index > len(subs) {
		return domain.Subscription{}, domain.ErrIndexOutOfRange
	}
	victim := subs[index-1]
	delete(m.subs, victim.Key())
	return victim, nil
}

func (m *memoryStore) RemoveSubscription(_ context.Context, key domain.SubscriptionKey) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[key]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	delete(m.subs, key)
	return sub, nil
}

func (m *memoryStore) SubscriptionsForPlatform(_ context.Context, platform string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Subscription
	for k, sub := range m.subs {
		if k.Platform == platform {
			out = append(out, sub)
		}
	}
	sortSubscriptions(out)
	return out, nil
}
