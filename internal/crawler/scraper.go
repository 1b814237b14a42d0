package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
)

// PostScraper fills in missing post metadata from the linked page.
type PostScraper interface {
	Enrich(ctx context.Context, meta platforms.Meta, posts []domain.RawPost) []domain.RawPost
}

// Scraper fetches post pages and extracts metadata from OG tags.
type Scraper struct {
	client httpclient.Client
	log    logger.Logger
}

// NewScraper constructs a scraper with the provided HTTP client (or default).
func NewScraper(client httpclient.Client, log logger.Logger) *Scraper {
	if client == nil {
		client = platforms.DefaultHTTPClient()
	}
	return &Scraper{client: client, log: logger.Ensure(log)}
}

// Enrich iterates posts, fetching each page (with throttling) and merging OG metadata
// into fields the adapter left empty.
func (s *Scraper) Enrich(ctx context.Context, meta platforms.Meta, posts []domain.RawPost) []domain.RawPost {
	delay := meta.RequestDelay
	// seed output with originals so we can return what we have on abort
	out := append([]domain.RawPost(nil), posts...)

	for i, post := range posts {
		if post.URL == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return out
		default:
		}

		enriched, err := s.fetchAndParse(ctx, meta, post)
		if err != nil {
			s.log.WarnObj("post metadata scrape failed", "metadata_error", map[string]any{
				"platform": meta.ID,
				"url":      post.URL,
				"error":    err.Error(),
			})
		} else {
			out[i] = enriched
		}

		if delay > 0 && i < len(posts)-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out
			case <-timer.C:
			}
		}
	}

	return out
}

func (s *Scraper) fetchAndParse(ctx context.Context, meta platforms.Meta, post domain.RawPost) (domain.RawPost, error) {
	resp, err := s.client.Get(ctx, post.URL, meta.Headers)
	if err != nil {
		return post, fmt.Errorf("http fetch: %w", err)
	}

	if resp.StatusCode() != 200 {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return post, fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	pm, err := parseMeta(body)
	if err != nil {
		return post, err
	}
	updated := post
	if updated.Title == "" || updated.Title == updated.URL {
		updated.Title = firstNonEmpty(pm.Title, updated.Title)
	}
	if updated.Body == "" {
		updated.Body = pm.Description
	}
	if img := resolveURL(pm.ImageURL, post.URL); len(updated.MediaURLs) == 0 && img != "" {
		updated.MediaURLs = []string{img}
	}

	return updated, nil
}

func parseMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	pm := pageMeta{}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	pm.Title = firstNonEmpty(
		extract(`meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	pm.Description = firstNonEmpty(
		extract(`meta[property="og:description"]`),
		extract(`meta[name="description"]`),
	)
	pm.ImageURL = extract(`meta[property="og:image"]`)

	return pm, nil
}

// resolveURL makes ref absolute against the page it was found on.
func resolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

type pageMeta struct {
	Title       string
	Description string
	ImageURL    string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
