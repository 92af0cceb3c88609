package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/use-agent/shopcrawl/antidetect"
	"github.com/use-agent/shopcrawl/browser"
	"github.com/use-agent/shopcrawl/models"
	"github.com/use-agent/shopcrawl/platform"
	"github.com/use-agent/shopcrawl/proxy"
	"golang.org/x/sync/errgroup"
)

// session is one task's browser context and page.
type session struct {
	e       *Engine
	browser *browserHandle
	bctx    browser.Context
	page    browser.Page
	proxy   *proxy.Entry
}

// openSession creates a fresh context on the platform's browser, opens a
// page and applies the anti-detection identity to it.
func (e *Engine) openSession(ctx context.Context, a platform.Adapter, opts models.TaskOptions) (*session, error) {
	h, err := e.browserFor(kindFor(a.Platform()))
	if err != nil {
		return nil, err
	}
	h.acquire()

	var entry *proxy.Entry
	if opts.Proxy {
		if p, ok := e.proxies.Next(); ok {
			entry = &p
		} else {
			slog.Warn("proxy requested but the pool is empty, connecting directly")
		}
	}

	bctx, err := h.NewContext(ctx, browser.ContextOptions{Proxy: entry})
	if err != nil {
		e.recordBrowser(h, false)
		h.release()
		return nil, models.CategorizeError(err, "failed to create browser context")
	}
	e.contexts.Add(1)
	contextsGauge.Inc()
	s := &session{e: e, browser: h, bctx: bctx, proxy: entry}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		e.recordBrowser(h, false)
		s.close()
		return nil, models.CategorizeError(err, "failed to open page")
	}
	s.page = page
	e.recordBrowser(h, true)

	bo := a.BrowserOptions()
	// User agent and viewport are randomized per context unless the task
	// pins them.
	ao := antidetect.Options{
		UserAgent:      opts.UserAgent,
		Viewport:       opts.Viewport,
		Locale:         bo.Locale,
		Timezone:       bo.Timezone,
		AcceptLanguage: bo.AcceptLanguage,
		Headers:        bo.Headers,
	}
	if _, err := antidetect.Setup(page, ao); err != nil {
		s.close()
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to prepare page", err)
	}
	return s, nil
}

// close releases the page and the context. Errors are logged only.
func (s *session) close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			slog.Debug("failed to close page", "error", err)
		}
	}
	if err := s.bctx.Close(); err != nil {
		slog.Warn("failed to close browser context", "error", err)
	}
	s.e.contexts.Add(-1)
	contextsGauge.Dec()
	s.browser.release()
}

// recordBrowser feeds a context-open outcome into the browser's health and
// retires it when a threshold is crossed.
func (e *Engine) recordBrowser(h *browserHandle, ok bool) {
	if h.record(ok) {
		e.retireBrowser(h)
	}
}

// visit navigates to url with retries, waits for ready (if set) and the
// settle delay, then runs block detection.
func (s *session) visit(ctx context.Context, a platform.Adapter, url, ready string, opts models.TaskOptions) (bool, error) {
	e := s.e
	err := retry.Do(
		func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			err := s.page.Navigate(ctx, url)
			observeNavigation(string(a.Platform()), err)
			return err
		},
		retry.Attempts(uint(opts.Retries)+1),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if s.proxy != nil {
			e.proxies.MarkFailed(*s.proxy)
		}
		return false, models.CategorizeError(err, "navigation to "+url+" failed")
	}

	if ready != "" && !s.page.WaitFor(ctx, ready, e.cfg.ReadyTimeout) {
		slog.Debug("ready selector not found, continuing", "url", url, "selector", ready)
	}
	if err := sleep(ctx, e.cfg.SettleDelay); err != nil {
		return false, models.CategorizeError(err, "task deadline reached")
	}

	blocked, err := antidetect.DetectBlocking(ctx, s.page)
	if err != nil {
		slog.Debug("block detection failed", "url", url, "error", err)
	}
	if blocked {
		blockedPagesTotal.WithLabelValues(string(a.Platform())).Inc()
		slog.Warn("page looks blocked", "platform", a.Platform(), "url", url)
	}
	return blocked, nil
}

func (e *Engine) extractOptions(opts models.TaskOptions) platform.ExtractOptions {
	return platform.ExtractOptions{WaitTimeout: e.cfg.ReadyTimeout, Markdown: opts.Markdown}
}

// ── single_product ────────────────────────────────────────────────────

func (e *Engine) crawlProduct(ctx context.Context, a platform.Adapter, url string, opts models.TaskOptions) (*outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.TimeoutDuration())
	defer cancel()

	s, err := e.openSession(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	defer s.close()

	blocked, err := s.visit(ctx, a, url, a.ReadySelector(), opts)
	if err != nil {
		return nil, err
	}
	p, err := platform.ExtractProduct(ctx, a, s.page, e.extractOptions(opts))
	if err != nil {
		return nil, err
	}
	return &outcome{data: p, blocked: blocked}, nil
}

// ── product_list ──────────────────────────────────────────────────────

// crawlList walks up to MaxPages pages in order on one context and stops
// at the first page without an enabled next control.
func (e *Engine) crawlList(ctx context.Context, a platform.Adapter, url string, opts models.TaskOptions) (*outcome, error) {
	s, err := e.openSession(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	defer s.close()

	products := []models.Product{}
	var blocked bool
	for n := 1; n <= opts.MaxPages; n++ {
		lp, pageBlocked, err := s.listPage(ctx, a, a.PageURL(url, n), opts)
		if err != nil {
			return nil, err
		}
		blocked = blocked || pageBlocked
		products = append(products, lp.Products...)
		slog.Debug("list page extracted", "page", n, "items", len(lp.Products), "hasNext", lp.HasNext)

		if !lp.HasNext || n == opts.MaxPages {
			break
		}
		delay := time.Duration(opts.MinDelay) * time.Millisecond
		if err := antidetect.RandomDelay(ctx, delay, time.Duration(opts.MaxDelay)*time.Millisecond); err != nil {
			return nil, models.CategorizeError(err, "task deadline reached between pages")
		}
	}
	return &outcome{data: products, blocked: blocked}, nil
}

// listPage loads and extracts one list page under its own timeout.
func (s *session) listPage(ctx context.Context, a platform.Adapter, url string, opts models.TaskOptions) (*platform.ListPage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.TimeoutDuration())
	defer cancel()

	blocked, err := s.visit(ctx, a, url, "", opts)
	if err != nil {
		return nil, false, err
	}
	lp, err := platform.ExtractList(ctx, a, s.page, s.e.extractOptions(opts))
	if err != nil {
		return nil, blocked, err
	}
	return lp, blocked, nil
}

// ── search_products ───────────────────────────────────────────────────

func (e *Engine) crawlSearch(ctx context.Context, a platform.Adapter, keyword string, opts models.TaskOptions) (*outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.TimeoutDuration())
	defer cancel()

	s, err := e.openSession(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	defer s.close()

	blocked, err := s.visit(ctx, a, a.SearchURL(keyword), "", opts)
	if err != nil {
		return nil, err
	}
	products, err := platform.ExtractSearch(ctx, a, s.page, opts.MaxResults, e.extractOptions(opts))
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.Product{}
	}
	return &outcome{data: products, blocked: blocked}, nil
}

// ── batch_crawl ───────────────────────────────────────────────────────

// crawlBatch runs the URLs as independent single-product crawls, Concurrency
// at a time. Chunks run in sequence with a random pause between them.
// Per-URL failures become BatchFailure entries; output order matches urls.
func (e *Engine) crawlBatch(ctx context.Context, a platform.Adapter, urls []string, opts models.TaskOptions) (*outcome, error) {
	results := make([]any, len(urls))
	blocked := make([]bool, len(urls))

	for start := 0; start < len(urls); start += opts.Concurrency {
		if start > 0 {
			if err := antidetect.RandomDelay(ctx, e.cfg.ChunkDelayMin, e.cfg.ChunkDelayMax); err != nil {
				return nil, models.CategorizeError(err, "task deadline reached between batch chunks")
			}
		}
		end := min(start+opts.Concurrency, len(urls))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				out, err := e.crawlProduct(ctx, a, urls[i], opts)
				if err != nil {
					results[i] = models.BatchFailure{Error: err.Error(), URL: urls[i]}
					return nil
				}
				results[i] = out.data
				blocked[i] = out.blocked
				return nil
			})
		}
		_ = g.Wait()
	}

	var anyBlocked bool
	for _, b := range blocked {
		anyBlocked = anyBlocked || b
	}
	return &outcome{data: results, blocked: anyBlocked}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
