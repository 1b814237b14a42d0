package platforms

import (
	"context"
	"errors"
	"testing"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>明日方舟Arknights</title>
  <item>
    <guid>p2</guid>
    <title>闪断更新公告</title>
    <link>https://weibo.com/6279793937/p2</link>
    <description><![CDATA[<p>今日16:00闪断更新</p><p>请留意<br/>公告</p>]]></description>
    <category>图文</category>
    <category>明日方舟</category>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <enclosure url="https://img.example/p2.jpg" type="image/jpeg" length="1"/>
  </item>
  <item>
    <guid>p1</guid>
    <title>转发</title>
    <category>未知</category>
  </item>
</channel>
</rss>`

func newWeiboRSS(t *testing.T, client HTTPClient) Adapter {
	t.Helper()
	cfgs, err := ParsePlatforms([]byte(weiboYAML), ".yaml")
	if err != nil {
		t.Fatalf("ParsePlatforms: %v", err)
	}
	cfgs[0].Config[ConfigUserAgentKey] = "UA"
	a, err := NewRSSAdapter(cfgs[0], client)
	if err != nil {
		t.Fatalf("NewRSSAdapter: %v", err)
	}
	return a
}

func TestRSSAdapterFetch(t *testing.T) {
	client := &mockHTTPClient{
		t:         t,
		expect:    map[string]string{"User-Agent": "UA"},
		responses: map[string]mockResponse{"https://rss.example/weibo/user/6279793937": {body: []byte(sampleFeed)}},
	}
	a := newWeiboRSS(t, client)

	posts, err := a.Fetch(context.Background(), "6279793937")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	p := posts[0]
	if p.ID != "p2" || p.Category != "图文" || p.Timestamp != 1136214245 {
		t.Fatalf("unexpected first post %+v", p)
	}
	if len(p.Tags) != 2 || p.Tags[1] != "明日方舟" {
		t.Fatalf("tags = %v", p.Tags)
	}
	if len(p.MediaURLs) != 1 || p.MediaURLs[0] != "https://img.example/p2.jpg" {
		t.Fatalf("media = %v", p.MediaURLs)
	}

	cat, err := Classify(a, p)
	if err != nil || cat != 3 {
		t.Fatalf("Classify = %d, %v", cat, err)
	}
	if _, err := Classify(a, posts[1]); !errors.Is(err, domain.ErrCategoryNotSupported) {
		t.Fatalf("expected ErrCategoryNotSupported, got %v", err)
	}

	post, err := a.Parse(context.Background(), "6279793937", p, cat)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "闪断更新公告\n\n今日16:00闪断更新\n请留意\n公告"
	if post.Text != want {
		t.Fatalf("Text = %q, want %q", post.Text, want)
	}
	if post.Platform != "weibo" || post.Category != 3 || post.URL != "https://weibo.com/6279793937/p2" {
		t.Fatalf("unexpected post %+v", post)
	}
}

func TestRSSAdapterFetchErrorWrapsErrFetch(t *testing.T) {
	client := &mockHTTPClient{
		t:         t,
		responses: map[string]mockResponse{"https://rss.example/weibo/user/1": {body: []byte("gone"), statusCode: 404}},
	}
	a := newWeiboRSS(t, client)

	if _, err := a.Fetch(context.Background(), "1"); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if _, err := a.ResolveTargetName(context.Background(), "1"); !errors.Is(err, domain.ErrTargetResolution) {
		t.Fatalf("expected ErrTargetResolution, got %v", err)
	}
}

func TestRSSAdapterResolveTargetName(t *testing.T) {
	client := &mockHTTPClient{
		t:         t,
		responses: map[string]mockResponse{"https://rss.example/weibo/user/6279793937": {body: []byte(sampleFeed)}},
	}
	name, err := newWeiboRSS(t, client).ResolveTargetName(context.Background(), "6279793937")
	if err != nil || name != "明日方舟Arknights" {
		t.Fatalf("ResolveTargetName = %q, %v", name, err)
	}
}

func TestClassifyWithoutCategories(t *testing.T) {
	a, err := NewRSSAdapter(sanitizePlatform(Platform{ID: "blog", Name: "Blog", Type: TypeRSS, SourceURL: "https://blog.example/feed", Schedule: Schedule{EverySeconds: 60}}), &mockHTTPClient{t: t})
	if err != nil {
		t.Fatalf("NewRSSAdapter: %v", err)
	}
	if cat, err := Classify(a, domain.RawPost{Category: "anything"}); err != nil || cat != 0 {
		t.Fatalf("Classify = %d, %v", cat, err)
	}
}
