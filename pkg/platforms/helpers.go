package platforms

import (
	"context"
	"crypto/sha1" //nolint:gosec // non-cryptographic id generation
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
)

func hashURL(u string) string {
	sum := sha1.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

// fetchBody downloads url and wraps every failure in domain.ErrFetch.
func fetchBody(ctx context.Context, client httpclient.Client, url, platformID string, headers map[string]string) ([]byte, error) {
	resp, err := client.Get(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrFetch, platformID, err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d body: %s", domain.ErrFetch, platformID, resp.StatusCode(), responseSnippet(body))
	}
	return body, nil
}

// Classify maps a raw post to its category through the adapter's table. Platforms
// without categories classify every post as 0.
func Classify(a Adapter, raw domain.RawPost) (domain.Category, error) {
	table := a.Meta().Categories
	if table.Len() == 0 {
		return 0, nil
	}
	return table.Lookup(raw.Category)
}

// HTMLToText flattens an HTML fragment into plain text, keeping line breaks for
// <br> and block elements.
func HTMLToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// composeText joins title and body the way every generic adapter formats posts.
func composeText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return body
	case body == "" || strings.HasPrefix(body, title):
		return firstNonEmpty(body, title)
	default:
		return title + "\n\n" + body
	}
}
