// Package engine executes crawl tasks against pooled browsers.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/shopcrawl/browser"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
	"github.com/use-agent/shopcrawl/platform"
	"github.com/use-agent/shopcrawl/proxy"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// platformKinds selects the browser engine per marketplace. Platforms not
// listed use browser.Chromium.
var platformKinds = map[platform.Platform]browser.Kind{
	platform.Taobao: browser.Chromium,
	platform.JD:     browser.Chromium,
	platform.Amazon: browser.Chrome,
}

func kindFor(p platform.Platform) browser.Kind {
	if k, ok := platformKinds[p]; ok {
		return k
	}
	return browser.Chromium
}

// Engine runs CrawlTasks. Browsers are shared across tasks; every task gets
// its own browser context, closed before the task returns.
type Engine struct {
	cfg     config.EngineConfig
	launch  browser.Launcher
	proxies *proxy.Manager
	limiter *rate.Limiter // nil when navigation throttling is off
	slots   *semaphore.Weighted

	mu          sync.Mutex
	initialized bool
	browsers    map[browser.Kind]*browserHandle
	retiring    map[*browserHandle]struct{}
	launches    singleflight.Group

	active    atomic.Int64
	queued    atomic.Int64
	contexts  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	started   time.Time
}

// New creates an engine. Initialize must be called before Execute.
func New(cfg config.EngineConfig, launch browser.Launcher, proxies *proxy.Manager) *Engine {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 3
	}
	if proxies == nil {
		proxies = proxy.NewManager()
	}
	InitMetrics()

	e := &Engine{
		cfg:      cfg,
		launch:   launch,
		proxies:  proxies,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		browsers: make(map[browser.Kind]*browserHandle),
		retiring: make(map[*browserHandle]struct{}),
		started:  time.Now(),
	}
	if cfg.NavigationsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.NavigationsPerSecond), 1)
	}
	return e
}

// Initialize loads the proxy pool. Only the first call has an effect.
func (e *Engine) Initialize(proxies []proxy.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return
	}
	e.proxies.Initialize(proxies)
	e.initialized = true
	slog.Info("crawler engine initialized",
		"proxies", len(proxies),
		"platforms", platform.Names(),
		"maxConcurrentTasks", e.cfg.MaxConcurrentTasks,
	)
}

// Initialized reports whether Initialize has run.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// outcome is the raw product of a strategy.
type outcome struct {
	data    any
	blocked bool
}

// Execute runs task to completion and always returns a result. Failures
// are reported in the result, never as a Go error.
func (e *Engine) Execute(ctx context.Context, task *models.CrawlTask) *models.CrawlResult {
	start := time.Now()
	if task.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			task.ID = id.String()
		}
	}

	out, err := e.run(ctx, task)
	elapsed := time.Since(start)
	observeTask(string(task.Type), task.Platform, err == nil, elapsed)

	if err != nil {
		e.failed.Add(1)
		slog.Warn("crawl task failed",
			"taskId", task.ID,
			"type", task.Type,
			"platform", task.Platform,
			"elapsed", elapsed,
			"error", err,
		)
		res := models.FailedResult(task.ID, err)
		res.ExecutionTime = elapsed.Milliseconds()
		return res
	}

	e.completed.Add(1)
	slog.Info("crawl task completed",
		"taskId", task.ID,
		"type", task.Type,
		"platform", task.Platform,
		"blocked", out.blocked,
		"elapsed", elapsed,
	)
	return &models.CrawlResult{
		TaskID:        task.ID,
		Success:       true,
		Data:          out.data,
		Blocked:       out.blocked,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     models.Now(),
	}
}

func (e *Engine) run(ctx context.Context, task *models.CrawlTask) (*outcome, error) {
	if !e.Initialized() {
		return nil, models.NewCrawlError(models.ErrCodeNotInitialized, "engine is not initialized", nil)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	a, err := platform.Lookup(task.Platform)
	if err != nil {
		return nil, err
	}
	e.applyDefaults(&task.Options)

	// ── Admission ────────────────────────────────────────────────────
	e.queued.Add(1)
	queuedTasksGauge.Inc()
	err = e.slots.Acquire(ctx, 1)
	e.queued.Add(-1)
	queuedTasksGauge.Dec()
	if err != nil {
		return nil, models.CategorizeError(err, "task expired while queued")
	}
	defer e.slots.Release(1)

	e.active.Add(1)
	activeTasksGauge.Inc()
	defer func() {
		e.active.Add(-1)
		activeTasksGauge.Dec()
	}()

	slog.Debug("crawl task started", "taskId", task.ID, "type", task.Type, "platform", a.Platform())

	switch task.Type {
	case models.TaskSingleProduct:
		return e.crawlProduct(ctx, a, task.URL, task.Options)
	case models.TaskProductList:
		return e.crawlList(ctx, a, task.URL, task.Options)
	case models.TaskSearchProducts:
		return e.crawlSearch(ctx, a, task.Keyword, task.Options)
	case models.TaskBatchCrawl:
		return e.crawlBatch(ctx, a, task.URLs, task.Options)
	default:
		return nil, models.NewCrawlError(models.ErrCodeInvalidTask, "unknown task type "+string(task.Type), nil)
	}
}

// applyDefaults fills unset options from the engine config, then from the
// built-in defaults.
func (e *Engine) applyDefaults(o *models.TaskOptions) {
	if o.Timeout <= 0 && e.cfg.DefaultTimeout > 0 {
		o.Timeout = int(e.cfg.DefaultTimeout.Milliseconds())
	}
	if o.MinDelay <= 0 && e.cfg.PageDelayMin > 0 {
		o.MinDelay = int(e.cfg.PageDelayMin.Milliseconds())
	}
	if o.MaxDelay <= 0 && e.cfg.PageDelayMax > 0 {
		o.MaxDelay = int(e.cfg.PageDelayMax.Milliseconds())
	}
	o.Defaults()
}

// Status returns the engine counters.
func (e *Engine) Status() models.EngineStatus {
	e.mu.Lock()
	initialized, browsers := e.initialized, len(e.browsers)
	e.mu.Unlock()

	return models.EngineStatus{
		IsInitialized:  initialized,
		ActiveTasks:    int(e.active.Load()),
		QueuedTasks:    int(e.queued.Load()),
		Browsers:       browsers,
		Contexts:       int(e.contexts.Load()),
		CompletedTasks: e.completed.Load(),
		FailedTasks:    e.failed.Load(),
		Uptime:         time.Since(e.started).Seconds(),
		Memory:         models.ReadMemory(),
	}
}

// ProxyStats exposes the proxy pool state.
func (e *Engine) ProxyStats() proxy.Stats {
	return e.proxies.Stats()
}
