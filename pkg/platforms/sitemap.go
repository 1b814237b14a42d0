package platforms

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

const maxSitemapDepth = 2

type googleNewsSitemap struct {
	URLs []googleNewsURL `xml:"url"`
}

type googleNewsURL struct {
	Loc             string `xml:"loc"`
	NewsTitle       string `xml:"news>title"`
	PublicationDate string `xml:"news>publication_date"`
	Keywords        string `xml:"news>keywords"`
	ImageLoc        string `xml:"image>loc"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

func parseGoogleNewsSitemap(data []byte) ([]googleNewsURL, error) {
	var sitemap googleNewsSitemap
	if err := xml.Unmarshal(data, &sitemap); err != nil {
		return nil, err
	}
	return sitemap.URLs, nil
}

func parseSitemapIndex(data []byte) ([]string, error) {
	var idx sitemapIndex
	if err := xml.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(idx.Sitemaps))
	for _, s := range idx.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out, nil
}

func parseKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func parsePublicationDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// sitemapAdapter polls Google News sitemaps, following sitemap indexes one level deep.
type sitemapAdapter struct {
	cfg    Platform
	meta   Meta
	client HTTPClient
}

// NewSitemapAdapter builds a Google News sitemap adapter.
func NewSitemapAdapter(cfg Platform, client HTTPClient) (Adapter, error) {
	if client == nil {
		client = DefaultHTTPClient()
	}
	meta, err := NewMeta(cfg)
	if err != nil {
		return nil, err
	}
	return &sitemapAdapter{cfg: cfg, meta: meta, client: client}, nil
}

func (a *sitemapAdapter) Meta() Meta { return a.meta }

func (a *sitemapAdapter) Fetch(ctx context.Context, target domain.Target) ([]domain.RawPost, error) {
	urls, err := a.fetchGoogleNewsURLs(ctx, SourceURL(a.cfg, target), 0)
	if err != nil {
		return nil, err
	}
	return a.buildPosts(urls), nil
}

func (a *sitemapAdapter) fetchGoogleNewsURLs(ctx context.Context, url string, depth int) ([]googleNewsURL, error) {
	raw, err := fetchBody(ctx, a.client, url, a.cfg.ID, Headers(a.cfg))
	if err != nil {
		return nil, err
	}

	if strings.Contains(string(raw[:min(len(raw), 512)]), "<sitemapindex") {
		if depth >= maxSitemapDepth {
			return nil, fmt.Errorf("%w: %s sitemap index nesting too deep", domain.ErrFetch, a.cfg.ID)
		}
		children, err := parseSitemapIndex(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s sitemap index: %v", domain.ErrFetch, a.cfg.ID, err)
		}
		var out []googleNewsURL
		for _, child := range children {
			urls, err := a.fetchGoogleNewsURLs(ctx, child, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, urls...)
		}
		return out, nil
	}

	urls, err := parseGoogleNewsSitemap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s sitemap: %v", domain.ErrFetch, a.cfg.ID, err)
	}
	return urls, nil
}

func (a *sitemapAdapter) buildPosts(urls []googleNewsURL) []domain.RawPost {
	posts := make([]domain.RawPost, 0, len(urls))
	for _, entry := range urls {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}

		post := domain.RawPost{
			ID:    hashURL(loc),
			Title: firstNonEmpty(entry.NewsTitle, loc),
			URL:   loc,
		}
		if ts := parsePublicationDate(entry.PublicationDate); !ts.IsZero() {
			post.Timestamp = ts.Unix()
		}
		keywords := parseKeywords(entry.Keywords)
		if len(keywords) > 0 {
			post.Category = keywords[0]
			if a.meta.TagSupport {
				post.Tags = keywords
			}
		}
		if img := strings.TrimSpace(entry.ImageLoc); img != "" {
			post.MediaURLs = []string{img}
		}
		posts = append(posts, post)
	}
	return posts
}

func (a *sitemapAdapter) ResolveTargetName(ctx context.Context, target domain.Target) (string, error) {
	if !a.meta.HasTarget {
		return a.meta.Name, nil
	}
	if _, err := a.fetchGoogleNewsURLs(ctx, SourceURL(a.cfg, target), 0); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTargetResolution, err)
	}
	return fmt.Sprintf("%s %s", a.meta.Name, target), nil
}

func (a *sitemapAdapter) Parse(_ context.Context, target domain.Target, raw domain.RawPost, category domain.Category) (domain.Post, error) {
	return buildPost(a.meta, target, raw, category, raw.Body), nil
}
