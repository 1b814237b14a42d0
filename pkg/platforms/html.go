package platforms

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

const maxHTMLBodyBytes = 1 << 20 // 1 MiB

// Selector keys understood by the html adapter.
const (
	ConfigItemSelector     = "item_selector"
	ConfigIDAttr           = "id_attr"
	ConfigLinkSelector     = "link_selector"
	ConfigTitleSelector    = "title_selector"
	ConfigBodySelector     = "body_selector"
	ConfigAuthorSelector   = "author_selector"
	ConfigCategorySelector = "category_selector"
	ConfigTagSelector      = "tag_selector"
	ConfigImageSelector    = "image_selector"
	ConfigTimeSelector     = "time_selector"
	ConfigTimeAttr         = "time_attr"
	ConfigTimeLayout       = "time_layout"
	ConfigNameSelector     = "name_selector"
)

// htmlAdapter scrapes listing pages with CSS selectors taken from the platform config.
type htmlAdapter struct {
	cfg    Platform
	meta   Meta
	client HTTPClient
}

// NewHTMLAdapter builds a selector driven page adapter.
func NewHTMLAdapter(cfg Platform, client HTTPClient) (Adapter, error) {
	if ConfigString(cfg, ConfigItemSelector, "") == "" {
		return nil, fmt.Errorf("platform %q: config.%s is required", cfg.ID, ConfigItemSelector)
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	meta, err := NewMeta(cfg)
	if err != nil {
		return nil, err
	}
	return &htmlAdapter{cfg: cfg, meta: meta, client: client}, nil
}

func (a *htmlAdapter) Meta() Meta { return a.meta }

func (a *htmlAdapter) document(ctx context.Context, target domain.Target) (*goquery.Document, *url.URL, error) {
	pageURL := SourceURL(a.cfg, target)
	body, err := fetchBody(ctx, a.client, pageURL, a.cfg.ID, Headers(a.cfg))
	if err != nil {
		return nil, nil, err
	}
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse %s html: %v", domain.ErrFetch, a.cfg.ID, err)
	}
	base, _ := url.Parse(pageURL)
	return doc, base, nil
}

func (a *htmlAdapter) Fetch(ctx context.Context, target domain.Target) ([]domain.RawPost, error) {
	doc, base, err := a.document(ctx, target)
	if err != nil {
		return nil, err
	}

	var posts []domain.RawPost
	doc.Find(ConfigString(a.cfg, ConfigItemSelector, "")).Each(func(_ int, item *goquery.Selection) {
		posts = append(posts, a.rawPost(item, base))
	})
	return posts, nil
}

func (a *htmlAdapter) rawPost(item *goquery.Selection, base *url.URL) domain.RawPost {
	text := func(key string) string {
		sel := ConfigString(a.cfg, key, "")
		if sel == "" {
			return ""
		}
		return strings.TrimSpace(item.Find(sel).First().Text())
	}

	link := ""
	if node := item.Find(ConfigString(a.cfg, ConfigLinkSelector, "a")).First(); node.Length() > 0 {
		link = resolveURL(base, node.AttrOr("href", ""))
	} else if href, ok := item.Attr("href"); ok {
		link = resolveURL(base, href)
	}

	post := domain.RawPost{
		Title:    text(ConfigTitleSelector),
		Author:   text(ConfigAuthorSelector),
		Category: text(ConfigCategorySelector),
		URL:      link,
	}
	if sel := ConfigString(a.cfg, ConfigBodySelector, ""); sel != "" {
		if html, err := item.Find(sel).First().Html(); err == nil {
			post.Body = html
		}
	}
	if attr := ConfigString(a.cfg, ConfigIDAttr, ""); attr != "" {
		post.ID = strings.TrimSpace(item.AttrOr(attr, ""))
	}
	if post.ID == "" && link != "" {
		post.ID = hashURL(link)
	}
	if sel := ConfigString(a.cfg, ConfigTagSelector, ""); sel != "" && a.meta.TagSupport {
		item.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if tag := strings.TrimSpace(s.Text()); tag != "" {
				post.Tags = append(post.Tags, tag)
			}
		})
	}
	if sel := ConfigString(a.cfg, ConfigImageSelector, ""); sel != "" {
		item.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if src := resolveURL(base, s.AttrOr("src", "")); src != "" {
				post.MediaURLs = append(post.MediaURLs, src)
			}
		})
	}
	if sel := ConfigString(a.cfg, ConfigTimeSelector, ""); sel != "" {
		node := item.Find(sel).First()
		raw := strings.TrimSpace(node.AttrOr(ConfigString(a.cfg, ConfigTimeAttr, "datetime"), node.Text()))
		if ts, err := time.Parse(ConfigString(a.cfg, ConfigTimeLayout, time.RFC3339), raw); err == nil {
			post.Timestamp = ts.Unix()
		}
	}
	return post
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func (a *htmlAdapter) ResolveTargetName(ctx context.Context, target domain.Target) (string, error) {
	if !a.meta.HasTarget {
		return a.meta.Name, nil
	}
	doc, _, err := a.document(ctx, target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTargetResolution, err)
	}
	name := strings.TrimSpace(doc.Find(ConfigString(a.cfg, ConfigNameSelector, "title")).First().Text())
	if name == "" {
		return "", fmt.Errorf("%w: no name found for %s", domain.ErrTargetResolution, target)
	}
	return name, nil
}

func (a *htmlAdapter) Parse(_ context.Context, target domain.Target, raw domain.RawPost, category domain.Category) (domain.Post, error) {
	return buildPost(a.meta, target, raw, category, HTMLToText(raw.Body)), nil
}
