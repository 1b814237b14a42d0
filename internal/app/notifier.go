package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/config"
	"github.com/samvad-hq/samvad-notifier/internal/crawler"
	"github.com/samvad-hq/samvad-notifier/internal/detect"
	"github.com/samvad-hq/samvad-notifier/internal/dialog"
	"github.com/samvad-hq/samvad-notifier/internal/gateway"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
	"github.com/samvad-hq/samvad-notifier/internal/scheduler"
	"github.com/samvad-hq/samvad-notifier/internal/storage"
	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
	"github.com/samvad-hq/samvad-notifier/pkg/platforms"
	"github.com/samvad-hq/samvad-notifier/pkg/publishers"
	"github.com/samvad-hq/samvad-notifier/pkg/render"
)

// Notifier is the runtime: one scheduled poll job per platform feeding the
// publisher fanout, plus the subscription dialog behind the HTTP gateway.
type Notifier struct {
	cfg       *config.Config
	platforms *platforms.Registry
	fanout    *publishers.Fanout
	crawl     *crawler.Service
	sched     *scheduler.Scheduler
	dialog    *dialog.Manager
	log       logger.Logger
	store     storage.Store

	closeOnce sync.Once
}

// NewNotifier builds the runtime from config files.
func NewNotifier(ctx context.Context, cfg *config.Config, log logger.Logger) (*Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	platformCfgs, err := platforms.LoadPlatforms(cfg.PlatformsFile)
	if err != nil {
		return nil, fmt.Errorf("load platforms: %w", err)
	}
	client := httpclient.NewRestyClient(cfg.HTTPTimeout)
	platformReg, err := platforms.BuildRegistry(platformCfgs, platforms.DefaultBuilders(), client)
	if err != nil {
		return nil, fmt.Errorf("build platforms: %w", err)
	}
	platformIDs := make([]string, 0, len(platformCfgs))
	for _, p := range platformCfgs {
		platformIDs = append(platformIDs, p.ID)
	}
	log.InfoObj("platforms registry loaded", "platforms_meta", map[string]any{
		"count": len(platformIDs),
		"ids":   platformIDs,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.StoragePath(), storage.Options{
		PollStateTTL:    cfg.PollStateTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.StoragePath(),
		"poll_state_ttl_seconds":   int(cfg.PollStateTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	var renderer render.Renderer
	if cfg.RenderURL != "" {
		rc, err := render.New(nil, render.Options{
			URL:         cfg.RenderURL,
			Attempts:    cfg.RenderAttempts,
			Timeout:     cfg.RenderTimeout,
			Concurrency: cfg.RenderConcurrency,
		})
		if err != nil {
			_ = fanout.Close()
			_ = store.Close()
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		renderer = rc
	}

	crawl := crawler.NewService(crawler.Options{
		Store:         store,
		Detector:      detect.New(detect.Options{MaxSeenIDs: cfg.MaxSeenIDs, MaxPostAge: cfg.MaxPostAge}),
		Dispatcher:    fanout,
		Renderer:      renderer,
		Scraper:       crawler.NewScraper(client, log),
		Log:           log,
		FetchInterval: cfg.FetchInterval,
	})

	dlg, err := dialog.NewManager(dialog.Options{
		Store:     store,
		Platforms: platformReg,
		Timeout:   cfg.DialogTimeout,
		Log:       log,
	})
	if err != nil {
		_ = fanout.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init dialog: %w", err)
	}

	n := &Notifier{
		cfg:       cfg,
		platforms: platformReg,
		fanout:    fanout,
		crawl:     crawl,
		sched:     scheduler.New(log),
		dialog:    dlg,
		log:       log,
		store:     store,
	}
	if err := n.registerJobs(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := publisherReg.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no publishers configured")
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{"id": pubCfg.ID, "type": pubCfg.Type})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

func (n *Notifier) registerJobs() error {
	for _, a := range n.platforms.All() {
		meta := a.Meta()
		spec, err := meta.Schedule.Spec()
		if err != nil {
			return fmt.Errorf("platform %q schedule: %w", meta.ID, err)
		}
		adapter := a
		if err := n.sched.Register(meta.ID, spec, func(ctx context.Context) error {
			return n.crawl.RunPlatform(ctx, adapter)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Platforms exposes the loaded platform registry.
func (n *Notifier) Platforms() *platforms.Registry { return n.platforms }

// Store exposes the subscription store.
func (n *Notifier) Store() storage.Store { return n.store }

// PollOnce runs every platform job once, concurrently across platforms.
func (n *Notifier) PollOnce(ctx context.Context) error {
	adapters := n.platforms.All()
	errs := make([]error, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if _, err := n.sched.RunNow(ctx, id); err != nil {
				errs[i] = fmt.Errorf("platform %s: %w", id, err)
			}
		}(i, a.Meta().ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Run starts the scheduler, the dialog janitor and the gateway, and blocks until
// ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if n == nil || n.crawl == nil {
		return fmt.Errorf("notifier is not initialized")
	}
	defer n.Close()

	if len(n.platforms.All()) == 0 {
		n.log.WarnObj("no platforms configured; notifier idle", "platforms_file", n.cfg.PlatformsFile)
	}
	n.log.InfoObj("notifier starting", "notifier_state", map[string]any{
		"platforms_count":  len(n.platforms.All()),
		"publishers_count": n.fanout.Size(),
		"gateway_addr":     n.cfg.GatewayAddr,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.sched.Start(runCtx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		if err := n.PollOnce(runCtx); err != nil {
			n.log.ErrorObj("initial poll finished with errors", "error", err.Error())
		}
		n.log.InfoObj("initial poll completed", "poll_meta", map[string]any{"elapsed_ms": time.Since(start).Milliseconds()})
	}()
	go func() {
		defer wg.Done()
		n.dialog.RunJanitor(runCtx, n.cfg.DialogJanitor)
	}()

	srv := gateway.NewServer(n.cfg.GatewayAddr, gateway.NewHandler(n.dialog, n.store, n.log), n.log)
	err := srv.Run(runCtx)

	cancel()
	wg.Wait()
	n.sched.Stop()
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	n.log.InfoObj("notifier exiting", "reason", fmt.Sprint(ctx.Err()))
	return nil
}

// Close releases publishers and the store. It is safe to call more than once.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(n.close)
}

func (n *Notifier) close() {
	if n.fanout != nil {
		if err := n.fanout.Close(); err != nil {
			n.log.ErrorObj("publisher close failed", "error", err.Error())
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			n.log.ErrorObj("storage close failed", "error", err.Error())
		}
	}
}
