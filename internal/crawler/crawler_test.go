package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/samvad-hq/samvad-notifier/internal/detect"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/storage"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
	"github.com/samvad-hq/samvad-notifier/pkg/publishers"
	"github.com/samvad-hq/samvad-notifier/pkg/render"
)

// fakeAdapter serves preset posts per target.
type fakeAdapter struct {
	meta  platforms.Meta
	mu    sync.Mutex
	posts map[domain.Target][]domain.RawPost
	errs  map[domain.Target]error
	calls []domain.Target
}

func (f *fakeAdapter) Meta() platforms.Meta { return f.meta }

func (f *fakeAdapter) Fetch(_ context.Context, target domain.Target) ([]domain.RawPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target)
	if err := f.errs[target]; err != nil {
		return nil, err
	}
	return f.posts[target], nil
}

func (f *fakeAdapter) ResolveTargetName(_ context.Context, target domain.Target) (string, error) {
	return "name-" + string(target), nil
}

func (f *fakeAdapter) Parse(_ context.Context, target domain.Target, raw domain.RawPost, category domain.Category) (domain.Post, error) {
	if raw.Body == "unparseable" {
		return domain.Post{}, errors.New("bad body")
	}
	return domain.Post{
		Platform:    f.meta.ID,
		Target:      target,
		DisplayName: f.meta.Name,
		Text:        raw.Body,
		URL:         raw.URL,
		Category:    category,
		Tags:        raw.Tags,
	}, nil
}

// fakeDispatcher records notifications and fails for selected subscribers.
type fakeDispatcher struct {
	mu     sync.Mutex
	sent   []publishers.Notification
	failOn string
}

func (f *fakeDispatcher) Publish(_ context.Context, n publishers.Notification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.Subscriber == f.failOn {
		return 0, errors.New("sink down")
	}
	f.sent = append(f.sent, n)
	return 1, nil
}

func (f *fakeDispatcher) postIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Subscriber+":"+n.Post.Text)
	}
	return out
}

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(_ context.Context, req render.Request) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png:" + req.Selector), nil
}

func testMeta(t *testing.T, hasTarget bool) platforms.Meta {
	t.Helper()
	table, err := domain.NewCategoryTable(map[int]string{1: "转发", 2: "视频", 3: "图文"})
	if err != nil {
		t.Fatalf("category table: %v", err)
	}
	return platforms.Meta{
		ID:         "weibo",
		Name:       "新浪微博",
		HasTarget:  hasTarget,
		Categories: table,
		DetectMode: domain.DetectIDSet,
	}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewStore("memory", "", storage.Options{})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addSub(t *testing.T, store storage.Store, sub domain.Subscription) {
	t.Helper()
	if err := store.AddSubscription(context.Background(), sub); err != nil {
		t.Fatalf("add subscription: %v", err)
	}
}

func raw(id, category, body string) domain.RawPost {
	return domain.RawPost{ID: id, Category: category, Body: body}
}

func TestRunPlatformColdStartThenDispatchesNewPosts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addSub(t, store, domain.Subscription{Subscriber: "g1", Scope: domain.ScopeGroup, Platform: "weibo", Target: "6279793937", TargetName: "明日方舟Arknights"})
	addSub(t, store, domain.Subscription{Subscriber: "g2", Scope: domain.ScopeGroup, Platform: "weibo", Target: "6279793937", Categories: []domain.Category{2}})

	adapter := &fakeAdapter{meta: testMeta(t, true), posts: map[domain.Target][]domain.RawPost{
		"6279793937": {raw("p3", "图文", "c"), raw("p2", "图文", "b"), raw("p1", "图文", "a")},
	}}
	dispatcher := &fakeDispatcher{}
	svc := NewService(Options{Store: store, Dispatcher: dispatcher})

	if err := svc.RunPlatform(ctx, adapter); err != nil {
		t.Fatalf("cold start: %v", err)
	}
	if len(dispatcher.sent) != 0 {
		t.Fatalf("cold start dispatched %v", dispatcher.postIDs())
	}

	adapter.posts["6279793937"] = []domain.RawPost{raw("p5", "视频", "e"), raw("p4", "图文", "d"), raw("p3", "图文", "c")}
	res, err := svc.Poll(ctx, adapter)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	got := strings.Join(dispatcher.postIDs(), ",")
	if got != "g1:e,g2:e,g1:d" {
		t.Fatalf("unexpected dispatch order %q", got)
	}
	if res.NewPosts != 2 || res.Notified != 3 {
		t.Fatalf("unexpected counters %+v", res)
	}
	if dispatcher.sent[0].TargetName != "明日方舟Arknights" || dispatcher.sent[0].Post.TargetName != "明日方舟Arknights" {
		t.Fatalf("target name not propagated: %+v", dispatcher.sent[0])
	}

	if _, err := svc.Poll(ctx, adapter); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if len(dispatcher.sent) != 3 {
		t.Fatalf("re-poll dispatched duplicates: %v", dispatcher.postIDs())
	}
}

func TestRunPlatformFetchErrorKeepsStateAndOtherTargets(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addSub(t, store, domain.Subscription{Subscriber: "g1", Scope: domain.ScopeGroup, Platform: "weibo", Target: "a"})
	addSub(t, store, domain.Subscription{Subscriber: "g1", Scope: domain.ScopeGroup, Platform: "weibo", Target: "b"})

	prev := domain.PollState{Mode: domain.DetectIDSet, SeenIDs: []string{"old"}}
	for _, target := range []domain.Target{"a", "b"} {
		if err := store.PutPollState(ctx, "weibo", target, prev); err != nil {
			t.Fatalf("seed state: %v", err)
		}
	}

	adapter := &fakeAdapter{
		meta:  testMeta(t, true),
		posts: map[domain.Target][]domain.RawPost{"b": {raw("new", "图文", "fresh"), raw("old", "图文", "x")}},
		errs:  map[domain.Target]error{"a": domain.ErrFetch},
	}
	dispatcher := &fakeDispatcher{}
	svc := NewService(Options{Store: store, Detector: detect.New(detect.Options{}), Dispatcher: dispatcher})

	err := svc.RunPlatform(ctx, adapter)
	if !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if got := strings.Join(dispatcher.postIDs(), ","); got != "g1:fresh" {
		t.Fatalf("healthy target not processed: %q", got)
	}

	state, ok, err := store.GetPollState(ctx, "weibo", "a")
	if err != nil || !ok {
		t.Fatalf("state a: ok=%v err=%v", ok, err)
	}
	if len(state.SeenIDs) != 1 || state.SeenIDs[0] != "old" {
		t.Fatalf("failed target state changed: %v", state.SeenIDs)
	}
	state, _, _ = store.GetPollState(ctx, "weibo", "b")
	if len(state.SeenIDs) != 2 {
		t.Fatalf("healthy target state not committed: %v", state.SeenIDs)
	}
}

func TestRunPlatformDropsUnknownCategoryAndParseFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addSub(t, store, domain.Subscription{Subscriber: "u1", Scope: domain.ScopeUser, Platform: "weibo", Target: "t"})
	if err := store.PutPollState(ctx, "weibo", "t", domain.PollState{Mode: domain.DetectIDSet}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	adapter := &fakeAdapter{meta: testMeta(t, true), posts: map[domain.Target][]domain.RawPost{
		"t": {raw("x", "直播", "live"), raw("y", "图文", "unparseable"), raw("z", "转发", "ok")},
	}}
	dispatcher := &fakeDispatcher{}
	svc := NewService(Options{Store: store, Dispatcher: dispatcher})

	res, err := svc.Poll(ctx, adapter)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Dropped != 2 {
		t.Fatalf("expected 2 dropped posts, got %+v", res)
	}
	if got := strings.Join(dispatcher.postIDs(), ","); got != "u1:ok" {
		t.Fatalf("unexpected dispatch %q", got)
	}
	state, _, _ := store.GetPollState(ctx, "weibo", "t")
	if len(state.SeenIDs) != 3 {
		t.Fatalf("dropped posts must still be recorded as seen: %v", state.SeenIDs)
	}
}

func TestRunPlatformDispatchFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addSub(t, store, domain.Subscription{Subscriber: "broken", Scope: domain.ScopeGroup, Platform: "weibo", Target: "t"})
	addSub(t, store, domain.Subscription{Subscriber: "ok", Scope: domain.ScopeGroup, Platform: "weibo", Target: "t"})
	if err := store.PutPollState(ctx, "weibo", "t", domain.PollState{Mode: domain.DetectIDSet}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	adapter := &fakeAdapter{meta: testMeta(t, true), posts: map[domain.Target][]domain.RawPost{"t": {raw("p", "图文", "hello")}}}
	dispatcher := &fakeDispatcher{failOn: "broken"}
	svc := NewService(Options{Store: store, Dispatcher: dispatcher})

	res, err := svc.Poll(ctx, adapter)
	if err != nil {
		t.Fatalf("dispatch failures must not fail the cycle: %v", err)
	}
	if res.Notified != 1 || res.FailedSend != 1 {
		t.Fatalf("unexpected counters %+v", res)
	}
}

func TestRunPlatformRendersAndFallsBack(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, renderer render.Renderer) publishers.Notification {
		t.Helper()
		store := newTestStore(t)
		addSub(t, store, domain.Subscription{Subscriber: "g", Scope: domain.ScopeGroup, Platform: "weibo", Target: "t"})
		if err := store.PutPollState(ctx, "weibo", "t", domain.PollState{Mode: domain.DetectIDSet}); err != nil {
			t.Fatalf("seed state: %v", err)
		}
		meta := testMeta(t, true)
		meta.Render = true
		post := raw("p", "图文", "line")
		post.URL = "https://m.weibo.cn/detail/p"
		adapter := &fakeAdapter{meta: meta, posts: map[domain.Target][]domain.RawPost{"t": {post}}}
		dispatcher := &fakeDispatcher{}
		svc := NewService(Options{Store: store, Dispatcher: dispatcher, Renderer: renderer})
		if err := svc.RunPlatform(ctx, adapter); err != nil {
			t.Fatalf("poll: %v", err)
		}
		if len(dispatcher.sent) != 1 {
			t.Fatalf("expected one notification, got %d", len(dispatcher.sent))
		}
		return dispatcher.sent[0]
	}

	t.Run("rendered", func(t *testing.T) {
		n := run(t, &fakeRenderer{})
		if len(n.Post.Media) != 1 || string(n.Post.Media[0]) != "png:div" {
			t.Fatalf("expected rendered image, got %+v", n.Post.Media)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		renderer := &fakeRenderer{err: domain.ErrRender}
		n := run(t, renderer)
		if len(n.Post.Media) != 0 {
			t.Fatalf("fallback must not carry media")
		}
		if !strings.HasPrefix(n.Post.Text, render.FallbackNotice) || !strings.Contains(n.Post.Text, "https://m.weibo.cn/detail/p") {
			t.Fatalf("unexpected fallback text %q", n.Post.Text)
		}
	})

	t.Run("no renderer", func(t *testing.T) {
		n := run(t, nil)
		if !strings.HasPrefix(n.Post.Text, render.FallbackNotice) {
			t.Fatalf("expected fallback without renderer, got %q", n.Post.Text)
		}
	})
}

func TestRunPlatformWithoutTargetsPollsDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	addSub(t, store, domain.Subscription{Subscriber: "g", Scope: domain.ScopeGroup, Platform: "weibo", Target: domain.DefaultTarget})
	if err := store.PutPollState(ctx, "weibo", domain.DefaultTarget, domain.PollState{Mode: domain.DetectIDSet}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	adapter := &fakeAdapter{meta: testMeta(t, false), posts: map[domain.Target][]domain.RawPost{
		domain.DefaultTarget: {raw("n1", "图文", "news")},
	}}
	dispatcher := &fakeDispatcher{}
	svc := NewService(Options{Store: store, Dispatcher: dispatcher})

	if err := svc.RunPlatform(ctx, adapter); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(adapter.calls) != 1 || adapter.calls[0] != domain.DefaultTarget {
		t.Fatalf("expected one fetch of the default target, got %v", adapter.calls)
	}
	if got := strings.Join(dispatcher.postIDs(), ","); got != "g:news" {
		t.Fatalf("unexpected dispatch %q", got)
	}
}

func TestRunPlatformSkipsWithoutSubscriptions(t *testing.T) {
	adapter := &fakeAdapter{meta: testMeta(t, true)}
	svc := NewService(Options{Store: newTestStore(t), Dispatcher: &fakeDispatcher{}})

	if err := svc.RunPlatform(context.Background(), adapter); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(adapter.calls) != 0 {
		t.Fatalf("platform without subscribers must not be fetched")
	}
}

func TestTargetsOfDeduplicatesInOrder(t *testing.T) {
	meta := testMeta(t, true)
	subs := []domain.Subscription{
		{Target: "b"}, {Target: "a"}, {Target: "b"}, {Target: domain.DefaultTarget},
	}
	got := targetsOf(meta, subs)
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("unexpected targets %v", got)
	}
}
