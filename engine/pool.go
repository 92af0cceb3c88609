package engine

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/use-agent/shopcrawl/browser"
	"github.com/use-agent/shopcrawl/models"
)

// Browser health scoring:
//   - context opened: errScore -= 0.5 (min 0)
//   - context or page creation failed: errScore += 1.0
//
// Retirement triggers (any one):
//   - errScore >= 3.0
//   - useCount >= 500
//   - age >= 2 hours
//
// A retired browser leaves the pool at once, so the next task launches a
// fresh one, and is closed when its last context is released.
const (
	retireErrScore = 3.0
	retireUses     = 500
	retireAge      = 2 * time.Hour
)

// browserHandle wraps a pooled browser with health and lease tracking.
type browserHandle struct {
	browser.Browser
	created time.Time

	mu       sync.Mutex
	errScore float64
	useCount int
	leases   int
	retired  bool
	closed   bool
}

func newBrowserHandle(b browser.Browser) *browserHandle {
	return &browserHandle{Browser: b, created: time.Now()}
}

// acquire leases the browser to one session.
func (h *browserHandle) acquire() {
	h.mu.Lock()
	h.leases++
	h.mu.Unlock()
}

// record applies the outcome of opening a context and reports whether the
// browser should now be retired.
func (h *browserHandle) record(ok bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	if ok {
		h.errScore = math.Max(0, h.errScore-0.5)
	} else {
		h.errScore += 1.0
	}
	return h.errScore >= retireErrScore ||
		h.useCount >= retireUses ||
		time.Since(h.created) >= retireAge
}

// release ends a lease. The last release of a retired browser closes it.
func (h *browserHandle) release() {
	h.mu.Lock()
	h.leases--
	closeNow := h.retired && h.leases == 0
	h.mu.Unlock()
	if closeNow {
		h.close()
	}
}

// retire marks the handle for closing. It closes immediately when idle.
func (h *browserHandle) retire() {
	h.mu.Lock()
	h.retired = true
	closeNow := h.leases == 0
	h.mu.Unlock()
	if closeNow {
		h.close()
	}
}

func (h *browserHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// close shuts the browser once. Later calls return nil.
func (h *browserHandle) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.Browser.Close()
	if err != nil {
		slog.Warn("failed to close browser", "kind", h.Kind(), "error", err)
	}
	return err
}

// browserFor returns the pooled browser of kind, launching it on first use.
// Concurrent first uses share one launch. A failed non-chromium launch
// falls back to chromium.
func (e *Engine) browserFor(kind browser.Kind) (*browserHandle, error) {
	e.mu.Lock()
	h, ok := e.browsers[kind]
	e.mu.Unlock()
	if ok {
		return h, nil
	}

	v, err, _ := e.launches.Do(string(kind), func() (any, error) {
		e.mu.Lock()
		if h, ok := e.browsers[kind]; ok {
			e.mu.Unlock()
			return h, nil
		}
		e.mu.Unlock()

		b, err := e.launch(kind)
		if err != nil {
			return nil, err
		}
		h := newBrowserHandle(b)
		e.mu.Lock()
		e.browsers[kind] = h
		browsersGauge.Set(float64(len(e.browsers)))
		e.mu.Unlock()
		return h, nil
	})
	if err != nil {
		if kind != browser.Chromium {
			slog.Warn("browser launch failed, falling back to chromium", "kind", kind, "error", err)
			return e.browserFor(browser.Chromium)
		}
		return nil, models.CategorizeError(err, "failed to launch browser")
	}
	return v.(*browserHandle), nil
}

// retireBrowser drops h from the pool and closes it once idle.
func (e *Engine) retireBrowser(h *browserHandle) {
	kind := h.Kind()
	e.mu.Lock()
	if e.browsers[kind] == h {
		delete(e.browsers, kind)
		browsersGauge.Set(float64(len(e.browsers)))
	}
	for r := range e.retiring {
		if r.isClosed() {
			delete(e.retiring, r)
		}
	}
	e.retiring[h] = struct{}{}
	e.mu.Unlock()

	h.mu.Lock()
	slog.Info("retiring browser", "kind", kind, "errScore", h.errScore, "useCount", h.useCount,
		"age", time.Since(h.created).Round(time.Second))
	h.mu.Unlock()
	h.retire()
}

// Cleanup closes every pooled and retiring browser. A failing close is
// logged and the rest are still closed; the joined error is returned.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	handles := make([]*browserHandle, 0, len(e.browsers)+len(e.retiring))
	for _, h := range e.browsers {
		handles = append(handles, h)
	}
	for h := range e.retiring {
		handles = append(handles, h)
	}
	e.browsers = make(map[browser.Kind]*browserHandle)
	e.retiring = make(map[*browserHandle]struct{})
	e.mu.Unlock()
	browsersGauge.Set(0)

	var errs []error
	for _, h := range handles {
		if err := h.close(); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("browser closed", "kind", h.Kind())
	}
	return errors.Join(errs...)
}
