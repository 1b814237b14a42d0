package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/config"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/publishers"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>明日方舟Arknights</title><link>https://example.com</link><description>feed</description>
%s
</channel></rss>`

func feedItem(id, body string) string {
	return fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><description>%s</description><category>图文</category><link>https://example.com/%s</link></item>`,
		id, id, body, id)
}

type feedServer struct {
	mu    sync.Mutex
	items []string
}

func (f *feedServer) set(items ...string) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/feed/6279793937" {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	body := fmt.Sprintf(feedTemplate, strings.Join(f.items, "\n"))
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(body))
}

type sink struct {
	mu    sync.Mutex
	notes []publishers.Notification
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var n publishers.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (s *sink) received() []publishers.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishers.Notification(nil), s.notes...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testConfig(t *testing.T, feedURL, sinkURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	platformsFile := writeFile(t, dir, "platforms.yaml", fmt.Sprintf(`
platforms:
  - id: weibo
    name: 新浪微博
    type: rss
    source_url: %s/feed/{target}
    has_target: true
    categories:
      3: 图文
    schedule:
      type: interval
      every_seconds: 3600
    request_delay_ms: 1
`, feedURL))
	publishersFile := writeFile(t, dir, "publishers.yaml", fmt.Sprintf(`
publishers:
  - id: sink
    type: http
    http:
      url: %s
      timeout_seconds: 2
`, sinkURL))

	return &config.Config{
		AppName:                "samvad-notifier",
		PlatformsFile:          platformsFile,
		PublishersFile:         publishersFile,
		StorageType:            "memory",
		PollStateTTL:           time.Hour,
		StorageCleanupInterval: time.Hour,
		MaxSeenIDs:             100,
		HTTPTimeout:            2 * time.Second,
		DialogTimeout:          time.Minute,
		DialogJanitor:          time.Minute,
		GatewayAddr:            "127.0.0.1:0",
	}
}

func TestNotifierPollsAndDispatchesNewPosts(t *testing.T) {
	feed := &feedServer{}
	feed.set(feedItem("p2", "second"), feedItem("p1", "first"))
	feedSrv := httptest.NewServer(feed)
	defer feedSrv.Close()
	out := &sink{}
	sinkSrv := httptest.NewServer(out)
	defer sinkSrv.Close()

	ctx := context.Background()
	n, err := NewNotifier(ctx, testConfig(t, feedSrv.URL, sinkSrv.URL), nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer n.Close()

	if err := n.Store().AddSubscription(ctx, domain.Subscription{
		Subscriber: "10000",
		Scope:      domain.ScopeGroup,
		Platform:   "weibo",
		Target:     "6279793937",
		TargetName: "明日方舟Arknights",
	}); err != nil {
		t.Fatalf("add subscription: %v", err)
	}

	if err := n.PollOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if got := len(out.received()); got != 0 {
		t.Fatalf("first poll must not notify, got %d", got)
	}

	feed.set(feedItem("p3", "third"), feedItem("p2", "second"), feedItem("p1", "first"))
	if err := n.PollOnce(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	notes := out.received()
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	note := notes[0]
	if note.Subscriber != "10000" || note.Platform != "weibo" || note.Target != "6279793937" {
		t.Fatalf("unexpected notification %+v", note)
	}
	if !strings.Contains(note.Post.Text, "third") || note.Post.Category != 3 {
		t.Fatalf("unexpected post %+v", note.Post)
	}

	if err := n.PollOnce(ctx); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if got := len(out.received()); got != 1 {
		t.Fatalf("re-poll duplicated notifications: %d", got)
	}
}

func TestNotifierRequiresPublishers(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.PublishersFile = writeFile(t, dir, "publishers.yaml", "publishers:\n  - id: off\n    type: http\n    enabled: false\n    http:\n      url: http://127.0.0.1:1\n")

	if _, err := NewNotifier(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error without enabled publishers")
	}
}

func TestNotifierRunStopsOnCancel(t *testing.T) {
	feedSrv := httptest.NewServer(&feedServer{})
	defer feedSrv.Close()
	sinkSrv := httptest.NewServer(&sink{})
	defer sinkSrv.Close()

	n, err := NewNotifier(context.Background(), testConfig(t, feedSrv.URL, sinkSrv.URL), nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
