package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/detect"
	"github.com/samvad-hq/samvad-notifier/internal/domain"
	"github.com/samvad-hq/samvad-notifier/internal/filter"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
	"github.com/samvad-hq/samvad-notifier/internal/storage"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
	"github.com/samvad-hq/samvad-notifier/pkg/publishers"
	"github.com/samvad-hq/samvad-notifier/pkg/render"
	"golang.org/x/time/rate"
)

// Dispatcher delivers one notification; publishers.Fanout implements it.
type Dispatcher interface {
	Publish(ctx context.Context, n publishers.Notification) (int, error)
}

// Options wires a Service.
type Options struct {
	Store      storage.Store
	Detector   *detect.Detector
	Dispatcher Dispatcher
	// Renderer is optional; platforms asking for rendering fall back to text without it.
	Renderer render.Renderer
	Scraper  PostScraper
	Log      logger.Logger
	// FetchInterval is the minimum gap between two target fetches of one platform
	// when the platform does not declare its own request delay.
	FetchInterval time.Duration
}

// Service runs poll cycles: fetch, detect, classify, parse, filter, dispatch.
type Service struct {
	store      storage.Store
	detector   *detect.Detector
	dispatcher Dispatcher
	renderer   render.Renderer
	scraper    PostScraper
	log        logger.Logger
	interval   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService wires a crawler.
func NewService(opts Options) *Service {
	if opts.Detector == nil {
		opts.Detector = detect.New(detect.Options{})
	}
	return &Service{
		store:      opts.Store,
		detector:   opts.Detector,
		dispatcher: opts.Dispatcher,
		renderer:   opts.Renderer,
		scraper:    opts.Scraper,
		log:        logger.Ensure(opts.Log),
		interval:   opts.FetchInterval,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// CycleResult summarises one platform poll.
type CycleResult struct {
	Targets    int
	NewPosts   int
	Dropped    int
	Notified   int
	FailedSend int
}

// RunPlatform polls every subscribed target of the platform once. Failures are
// isolated per target; the joined error lists every target that failed.
func (s *Service) RunPlatform(ctx context.Context, a platforms.Adapter) error {
	_, err := s.Poll(ctx, a)
	return err
}

// Poll is RunPlatform that also reports counters for the cycle.
func (s *Service) Poll(ctx context.Context, a platforms.Adapter) (CycleResult, error) {
	var res CycleResult
	if s == nil || s.store == nil {
		return res, fmt.Errorf("crawler service is not initialized")
	}
	meta := a.Meta()

	subs, err := s.store.SubscriptionsForPlatform(ctx, meta.ID)
	if err != nil {
		return res, fmt.Errorf("load subscriptions for %s: %w", meta.ID, err)
	}
	targets := targetsOf(meta, subs)
	if len(targets) == 0 {
		s.log.DebugObj("no subscriptions, skipping poll", "crawl_skip", map[string]any{"platform": meta.ID})
		return res, nil
	}

	limiter := s.limiterFor(meta)
	var errs []error
	for _, target := range targets {
		if err := limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		tr, err := s.runTarget(ctx, a, target, subs)
		res.Targets++
		res.NewPosts += tr.NewPosts
		res.Dropped += tr.Dropped
		res.Notified += tr.Notified
		res.FailedSend += tr.FailedSend
		if err != nil {
			errs = append(errs, err)
			s.log.ErrorObj("target poll failed", "target_error", map[string]any{
				"platform": meta.ID,
				"target":   target,
				"error":    err.Error(),
			})
		}
	}

	s.log.InfoObj("platform poll completed", "platform_result", map[string]any{
		"platform":    meta.ID,
		"targets":     res.Targets,
		"new_posts":   res.NewPosts,
		"dropped":     res.Dropped,
		"notified":    res.Notified,
		"failed_send": res.FailedSend,
	})
	return res, errors.Join(errs...)
}

// targetsOf returns the distinct targets to fetch, in subscription order. Platforms
// without targets poll the single default feed.
func targetsOf(meta platforms.Meta, subs []domain.Subscription) []domain.Target {
	if len(subs) == 0 {
		return nil
	}
	if !meta.HasTarget {
		return []domain.Target{domain.DefaultTarget}
	}
	seen := make(map[domain.Target]struct{}, len(subs))
	var out []domain.Target
	for _, sub := range subs {
		if sub.Target == domain.DefaultTarget {
			continue
		}
		if _, ok := seen[sub.Target]; ok {
			continue
		}
		seen[sub.Target] = struct{}{}
		out = append(out, sub.Target)
	}
	return out
}

func (s *Service) limiterFor(meta platforms.Meta) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[meta.ID]; ok {
		return l
	}
	gap := meta.RequestDelay
	if gap <= 0 {
		gap = s.interval
	}
	limit := rate.Inf
	if gap > 0 {
		limit = rate.Every(gap)
	}
	l := rate.NewLimiter(limit, 1)
	s.limiters[meta.ID] = l
	return l
}

type targetResult struct {
	NewPosts   int
	Dropped    int
	Notified   int
	FailedSend int
}

// runTarget polls one target. The poll state is written only after every new post
// went through dispatch, so a crash in between re-delivers rather than loses posts.
func (s *Service) runTarget(ctx context.Context, a platforms.Adapter, target domain.Target, subs []domain.Subscription) (targetResult, error) {
	var res targetResult
	meta := a.Meta()

	prev, found, err := s.store.GetPollState(ctx, meta.ID, target)
	if err != nil {
		return res, fmt.Errorf("load poll state %s/%s: %w", meta.ID, target, err)
	}
	raws, err := a.Fetch(ctx, target)
	if err != nil {
		return res, fmt.Errorf("fetch %s/%s: %w", meta.ID, target, err)
	}

	var prevState *domain.PollState
	if found {
		prevState = &prev
	}
	fresh, next := s.detector.Detect(meta.DetectMode, prevState, raws)
	res.NewPosts = len(fresh)
	if !found {
		s.log.InfoObj("first poll of target recorded", "target_cold_start", map[string]any{
			"platform": meta.ID,
			"target":   target,
			"recorded": len(raws),
		})
	}

	if meta.Enrich && s.scraper != nil && len(fresh) > 0 {
		fresh = s.scraper.Enrich(ctx, meta, fresh)
	}

	names := targetName(subs, target)
	for _, raw := range fresh {
		post, ok := s.preparePost(ctx, a, target, raw)
		if !ok {
			res.Dropped++
			continue
		}
		if names != "" {
			post.TargetName = names
		}
		sent, failed := s.dispatch(ctx, post, subs)
		res.Notified += sent
		res.FailedSend += failed
	}

	if err := s.store.PutPollState(ctx, meta.ID, target, next); err != nil {
		return res, fmt.Errorf("save poll state %s/%s: %w", meta.ID, target, err)
	}
	return res, nil
}

func targetName(subs []domain.Subscription, target domain.Target) string {
	for _, sub := range subs {
		if sub.Target == target && sub.TargetName != "" {
			return sub.TargetName
		}
	}
	return ""
}

// preparePost classifies, parses and renders one raw post. Posts failing
// classification or parsing are dropped and logged.
func (s *Service) preparePost(ctx context.Context, a platforms.Adapter, target domain.Target, raw domain.RawPost) (domain.Post, bool) {
	meta := a.Meta()
	category, err := platforms.Classify(a, raw)
	if err != nil {
		s.log.WarnObj("post category not supported", "post_dropped", map[string]any{
			"platform": meta.ID,
			"target":   target,
			"post_id":  raw.ID,
			"category": raw.Category,
			"error":    err.Error(),
		})
		return domain.Post{}, false
	}

	post, err := a.Parse(ctx, target, raw, category)
	if err != nil {
		s.log.WarnObj("post parse failed", "post_dropped", map[string]any{
			"platform": meta.ID,
			"target":   target,
			"post_id":  raw.ID,
			"error":    err.Error(),
		})
		return domain.Post{}, false
	}

	if meta.Render {
		post = s.render(ctx, post)
	}
	return post, true
}

func (s *Service) render(ctx context.Context, post domain.Post) domain.Post {
	if s.renderer == nil {
		return render.Fallback(post)
	}
	img, err := render.TextToImage(ctx, s.renderer, post.Text)
	if err != nil {
		s.log.WarnObj("render failed, sending fallback", "render_error", map[string]any{
			"platform": post.Platform,
			"target":   post.Target,
			"error":    err.Error(),
		})
		return render.Fallback(post)
	}
	post.Media = append(post.Media, img)
	return post
}

// dispatch sends post to every matching subscription independently.
func (s *Service) dispatch(ctx context.Context, post domain.Post, subs []domain.Subscription) (sent, failed int) {
	for _, sub := range filter.Match(post, subs) {
		n := publishers.NewNotification(sub, post)
		if s.dispatcher == nil {
			continue
		}
		if _, err := s.dispatcher.Publish(ctx, n); err != nil {
			failed++
			s.log.ErrorObj("notification dispatch failed", "dispatch_error", map[string]any{
				"notification_id": n.ID,
				"platform":        post.Platform,
				"target":          post.Target,
				"subscriber":      sub.Subscriber,
				"error":           err.Error(),
			})
			continue
		}
		sent++
	}
	return sent, failed
}
