// Package render talks to the HTML-to-image rendering service.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
	"golang.org/x/sync/semaphore"
)

const (
	defaultAttempts    = 3
	defaultTimeout     = 20 * time.Second
	defaultConcurrency = 2
)

// Request asks the service to screenshot HTML, optionally cropped to a CSS selector.
type Request struct {
	HTML     string `json:"html,omitempty"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Width    int    `json:"width,omitempty"`
}

// Renderer turns content into an image.
type Renderer interface {
	Render(ctx context.Context, req Request) ([]byte, error)
}

// Options configures a Client.
type Options struct {
	URL         string
	Attempts    int
	Timeout     time.Duration
	Concurrency int64
	Headers     map[string]string
}

// Client is a Renderer backed by a remote rendering service. The semaphore is the
// only handle to the backend; callers never share browser state.
type Client struct {
	http     httpclient.Client
	url      string
	attempts int
	timeout  time.Duration
	headers  map[string]string
	sem      *semaphore.Weighted
}

// New builds a Client. A nil http client gets a resty client without its own timeout;
// every attempt is bounded by Options.Timeout instead.
func New(client httpclient.Client, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("render url is empty")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if client == nil {
		client = httpclient.NewRestyClient(0)
	}
	return &Client{
		http:     client,
		url:      strings.TrimSpace(opts.URL),
		attempts: opts.Attempts,
		timeout:  opts.Timeout,
		headers:  opts.Headers,
		sem:      semaphore.NewWeighted(opts.Concurrency),
	}, nil
}

// Render tries up to the configured attempts, each with its own timeout. Once they
// are exhausted the returned error wraps domain.ErrRender.
func (c *Client) Render(ctx context.Context, req Request) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRender, err)
	}
	defer c.sem.Release(1)

	var errs []error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		img, err := c.once(ctx, req)
		if err == nil {
			return img, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrRender, errors.Join(errs...))
}

func (c *Client) once(ctx context.Context, req Request) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.PostJSON(attemptCtx, c.url, c.headers, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("render service returned status %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, errors.New("render service returned an empty image")
	}
	return resp.Body(), nil
}

const textTemplate = `<div style="width:17em;padding:1em">%s</div>`

// TextToImage renders plain text as an image, one paragraph per line.
func TextToImage(ctx context.Context, r Renderer, text string) ([]byte, error) {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return r.Render(ctx, Request{HTML: fmt.Sprintf(textTemplate, b.String()), Selector: "div"})
}

// FallbackNotice replaces rendered media when the service gave up.
const FallbackNotice = "[图片渲染失败，以下为文字内容]"

// Fallback turns a post whose rendering failed into a text-only post that is still
// worth delivering.
func Fallback(post domain.Post) domain.Post {
	post.Media = nil
	post.Text = strings.TrimSpace(FallbackNotice + "\n" + post.Text)
	if post.URL != "" && !strings.Contains(post.Text, post.URL) {
		post.Text += "\n" + post.URL
	}
	return post
}
