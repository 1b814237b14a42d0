package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

// openAll returns one instance of every backend so each behaviour is checked everywhere.
func openAll(t *testing.T, opts Options) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	stores := map[string]Store{}
	for typ, path := range map[string]string{
		"memory": "",
		"bbolt":  filepath.Join(dir, "notifier.db"),
		"sqlite": filepath.Join(dir, "notifier.sqlite"),
	} {
		s, err := NewStore(typ, path, opts)
		if err != nil {
			t.Fatalf("NewStore %s: %v", typ, err)
		}
		t.Cleanup(func() { s.Close() })
		stores[typ] = s
	}
	return stores
}

func weiboSub(subscriber, target string) domain.Subscription {
	return domain.Subscription{
		Subscriber: subscriber,
		Scope:      domain.ScopeGroup,
		Platform:   "weibo",
		Target:     domain.Target(target),
		TargetName: "name-" + target,
		Categories: []domain.Category{1, 2},
		Tags:       []string{"明日方舟"},
	}
}

func TestPollStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.GetPollState(ctx, "weibo", "1"); err != nil || ok {
				t.Fatalf("expected absent state, ok=%v err=%v", ok, err)
			}

			want := domain.PollState{Mode: domain.DetectIDSet, SeenIDs: []string{"p1", "p2", "p3"}}
			if err := s.PutPollState(ctx, "weibo", "1", want); err != nil {
				t.Fatalf("PutPollState: %v", err)
			}
			got, ok, err := s.GetPollState(ctx, "weibo", "1")
			if err != nil || !ok {
				t.Fatalf("GetPollState ok=%v err=%v", ok, err)
			}
			if len(got.SeenIDs) != 3 || got.SeenIDs[2] != "p3" || got.Mode != domain.DetectIDSet {
				t.Fatalf("unexpected state %+v", got)
			}
			if got.UpdatedAt.IsZero() {
				t.Fatalf("UpdatedAt not stamped")
			}

			if _, ok, _ := s.GetPollState(ctx, "weibo", "2"); ok {
				t.Fatalf("state leaked to another target")
			}
		})
	}
}

func TestAddSubscriptionRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			if err := s.AddSubscription(ctx, weiboSub("10000", "6279793937")); err != nil {
				t.Fatalf("AddSubscription: %v", err)
			}
			dup := weiboSub("10000", "6279793937")
			dup.Categories = nil
			if err := s.AddSubscription(ctx, dup); !errors.Is(err, domain.ErrDuplicateSubscription) {
				t.Fatalf("expected duplicate error, got %v", err)
			}

			subs, err := s.ListSubscriptions(ctx, "10000", domain.ScopeGroup)
			if err != nil {
				t.Fatalf("ListSubscriptions: %v", err)
			}
			if len(subs) != 1 {
				t.Fatalf("expected 1 subscription, got %d", len(subs))
			}
			if len(subs[0].Categories) != 2 || subs[0].TargetName != "name-6279793937" {
				t.Fatalf("first insert must win, got %+v", subs[0])
			}

			// same target for a private chat is a different key
			private := weiboSub("10000", "6279793937")
			private.Scope = domain.ScopeUser
			if err := s.AddSubscription(ctx, private); err != nil {
				t.Fatalf("AddSubscription user scope: %v", err)
			}
		})
	}
}

func TestDeleteSubscriptionByIndex(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			for _, target := range []string{"b", "a", "c"} {
				if err := s.AddSubscription(ctx, weiboSub("42", target)); err != nil {
					t.Fatalf("AddSubscription: %v", err)
				}
			}

			for _, idx := range []int{0, 4, -1} {
				if _, err := s.DeleteSubscription(ctx, "42", domain.ScopeGroup, idx); !errors.Is(err, domain.ErrIndexOutOfRange) {
					t.Fatalf("index %d: expected ErrIndexOutOfRange, got %v", idx, err)
				}
			}
			subs, _ := s.ListSubscriptions(ctx, "42", domain.ScopeGroup)
			if len(subs) != 3 {
				t.Fatalf("out of range delete changed list: %d", len(subs))
			}

			victim, err := s.DeleteSubscription(ctx, "42", domain.ScopeGroup, 2)
			if err != nil {
				t.Fatalf("DeleteSubscription: %v", err)
			}
			if victim.Target != "b" {
				t.Fatalf("index 2 should be target b, got %s", victim.Target)
			}
			subs, _ = s.ListSubscriptions(ctx, "42", domain.ScopeGroup)
			if len(subs) != 2 || subs[0].Target != "a" || subs[1].Target != "c" {
				t.Fatalf("unexpected list after delete %+v", subs)
			}
		})
	}
}

func TestRemoveSubscriptionByKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			for _, target := range []string{"a", "b"} {
				if err := s.AddSubscription(ctx, weiboSub("42", target)); err != nil {
					t.Fatalf("AddSubscription: %v", err)
				}
			}

			key := weiboSub("42", "b").Key()
			victim, err := s.RemoveSubscription(ctx, key)
			if err != nil {
				t.Fatalf("RemoveSubscription: %v", err)
			}
			if victim.Target != "b" || victim.TargetName != "name-b" || len(victim.Categories) != 2 {
				t.Fatalf("unexpected removed subscription %+v", victim)
			}
			if _, err := s.RemoveSubscription(ctx, key); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("second remove: expected ErrNotFound, got %v", err)
			}
			subs, _ := s.ListSubscriptions(ctx, "42", domain.ScopeGroup)
			if len(subs) != 1 || subs[0].Target != "a" {
				t.Fatalf("unexpected list after remove %+v", subs)
			}
		})
	}
}

func TestSubscriptionsForPlatform(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			_ = s.AddSubscription(ctx, weiboSub("1", "x"))
			_ = s.AddSubscription(ctx, weiboSub("2", "x"))
			other := weiboSub("1", "y")
			other.Platform = "bilibili"
			_ = s.AddSubscription(ctx, other)

			subs, err := s.SubscriptionsForPlatform(ctx, "weibo")
			if err != nil {
				t.Fatalf("SubscriptionsForPlatform: %v", err)
			}
			if len(subs) != 2 {
				t.Fatalf("expected 2 weibo subscriptions, got %d", len(subs))
			}
		})
	}
}

func TestConcurrentAddKeepsSingleEntry(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				success int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.AddSubscription(ctx, weiboSub("race", "t")); err == nil {
						mu.Lock()
						success++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if success != 1 {
				t.Fatalf("expected exactly one successful insert, got %d", success)
			}
		})
	}
}

func TestPollStateExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	stores := openAll(t, Options{PollStateTTL: time.Hour, CleanupInterval: time.Minute, Now: clock})

	for name, s := range stores {
		state := domain.PollState{Mode: domain.DetectIDSet, SeenIDs: []string{"a"}, UpdatedAt: now}
		if err := s.PutPollState(ctx, "p", "t", state); err != nil {
			t.Fatalf("%s PutPollState: %v", name, err)
		}
	}

	// Fast-forward past both the cleanup cadence and the TTL.
	now = now.Add(2 * time.Hour)

	for name, s := range stores {
		if _, ok, err := s.GetPollState(ctx, "p", "t"); err != nil || ok {
			t.Fatalf("%s: expected expired state to be removed, ok=%v err=%v", name, ok, err)
		}
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("redis", "", Options{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := NewStore("bbolt", " ", Options{}); err == nil {
		t.Fatalf("expected error for missing bbolt path")
	}
}
