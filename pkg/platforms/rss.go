package platforms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

// rssAdapter polls RSS/Atom/JSON feeds. The feed url is built from source_url with
// the target substituted in.
type rssAdapter struct {
	cfg    Platform
	meta   Meta
	client HTTPClient
}

// NewRSSAdapter builds a feed adapter.
func NewRSSAdapter(cfg Platform, client HTTPClient) (Adapter, error) {
	if client == nil {
		client = DefaultHTTPClient()
	}
	meta, err := NewMeta(cfg)
	if err != nil {
		return nil, err
	}
	return &rssAdapter{cfg: cfg, meta: meta, client: client}, nil
}

func (a *rssAdapter) Meta() Meta { return a.meta }

func (a *rssAdapter) feed(ctx context.Context, target domain.Target) (*gofeed.Feed, error) {
	raw, err := fetchBody(ctx, a.client, SourceURL(a.cfg, target), a.cfg.ID, Headers(a.cfg))
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s feed: %v", domain.ErrFetch, a.cfg.ID, err)
	}
	return feed, nil
}

func (a *rssAdapter) Fetch(ctx context.Context, target domain.Target) ([]domain.RawPost, error) {
	feed, err := a.feed(ctx, target)
	if err != nil {
		return nil, err
	}

	posts := make([]domain.RawPost, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		posts = append(posts, a.rawPost(item))
	}
	return posts, nil
}

func (a *rssAdapter) rawPost(item *gofeed.Item) domain.RawPost {
	post := domain.RawPost{
		ID:    pickGUID(item),
		Title: strings.TrimSpace(item.Title),
		URL:   strings.TrimSpace(item.Link),
		Body:  firstNonEmpty(item.Content, item.Description),
	}
	if item.Author != nil {
		post.Author = strings.TrimSpace(item.Author.Name)
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		post.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	switch {
	case item.PublishedParsed != nil:
		post.Timestamp = item.PublishedParsed.Unix()
	case item.UpdatedParsed != nil:
		post.Timestamp = item.UpdatedParsed.Unix()
	}
	if len(item.Categories) > 0 {
		post.Category = strings.TrimSpace(item.Categories[0])
		if a.meta.TagSupport {
			post.Tags = append(post.Tags, item.Categories...)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		post.MediaURLs = append(post.MediaURLs, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" && !slices.Contains(post.MediaURLs, enc.URL) {
			post.MediaURLs = append(post.MediaURLs, enc.URL)
		}
	}
	return post
}

func pickGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	if item.Title != "" {
		return hashURL(item.Title)
	}
	return ""
}

func (a *rssAdapter) ResolveTargetName(ctx context.Context, target domain.Target) (string, error) {
	feed, err := a.feed(ctx, target)
	if err != nil {
		if !a.meta.HasTarget && errors.Is(err, domain.ErrFetch) {
			return a.meta.Name, nil
		}
		return "", fmt.Errorf("%w: %v", domain.ErrTargetResolution, err)
	}
	name := strings.TrimSpace(feed.Title)
	if name == "" {
		if !a.meta.HasTarget {
			return a.meta.Name, nil
		}
		return "", fmt.Errorf("%w: feed %s has no title", domain.ErrTargetResolution, target)
	}
	return name, nil
}

func (a *rssAdapter) Parse(_ context.Context, target domain.Target, raw domain.RawPost, category domain.Category) (domain.Post, error) {
	return buildPost(a.meta, target, raw, category, HTMLToText(raw.Body)), nil
}

func buildPost(m Meta, target domain.Target, raw domain.RawPost, category domain.Category, body string) domain.Post {
	post := domain.Post{
		Platform:    m.ID,
		Target:      target,
		DisplayName: firstNonEmpty(raw.Author, m.Name),
		Text:        composeText(raw.Title, body),
		URL:         raw.URL,
		MediaURLs:   append([]string(nil), raw.MediaURLs...),
		Category:    category,
		Tags:        append([]string(nil), raw.Tags...),
	}
	if post.Text == "" {
		post.Text = raw.URL
	}
	return post
}
