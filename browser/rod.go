package browser

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
	"github.com/use-agent/shopcrawl/proxy"
)

// NewLauncher returns a Launcher that starts rod-controlled browsers
// configured by cfg.
func NewLauncher(cfg config.BrowserConfig) Launcher {
	return func(kind Kind) (Browser, error) {
		return Launch(cfg, kind)
	}
}

// Launch starts a browser of the given kind and connects to it.
func Launch(cfg config.BrowserConfig, kind Kind) (Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	switch kind {
	case Chrome:
		bin := cfg.ChromeBin
		if bin == "" {
			found, ok := launcher.LookPath()
			if !ok {
				return nil, models.NewCrawlError(models.ErrCodeBrowserCrash,
					"no system chrome found for the chrome engine", nil)
			}
			bin = found
		}
		l = l.Bin(bin)
	default:
		if cfg.ChromiumBin != "" {
			l = l.Bin(cfg.ChromiumBin)
		}
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "VizDisplayCompositor,TranslateUI")
	l.Set(flags.Flag("disable-setuid-sandbox"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}

	b := rod.New().ControlURL(controlURL).NoDefaultDevice()
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}
	slog.Info("browser launched", "kind", kind, "controlURL", controlURL)

	return &rodBrowser{
		kind:     kind,
		browser:  b,
		launcher: l,
		blocked:  blockedTypes(cfg.BlockedResourceTypes),
	}, nil
}

type rodBrowser struct {
	kind     Kind
	browser  *rod.Browser
	launcher *launcher.Launcher
	blocked  map[proto.NetworkResourceType]struct{}
}

func (b *rodBrowser) Kind() Kind { return b.kind }

// NewContext creates a CDP browser context. A proxy, if any, applies only
// to this context.
func (b *rodBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	req := proto.TargetCreateBrowserContext{DisposeOnDetach: true}
	if opts.Proxy != nil {
		req.ProxyServer = opts.Proxy.URL
	}
	res, err := req.Call(b.browser.Context(ctx))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}

	// Same connection, scoped to the new context, as rod's Incognito does.
	scoped := *b.browser
	scoped.BrowserContextID = res.BrowserContextID

	c := &rodContext{
		parent:  b.browser,
		browser: &scoped,
		id:      res.BrowserContextID,
		blocked: b.blocked,
	}
	if opts.Proxy != nil {
		c.auth = opts.Proxy.Auth
	}
	return c, nil
}

// Close shuts the browser down and removes its profile directory.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

type rodContext struct {
	parent  *rod.Browser
	browser *rod.Browser
	id      proto.BrowserBrowserContextID
	auth    *proxy.Auth
	blocked map[proto.NetworkResourceType]struct{}
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	// Drop the creation context so the page outlives this call.
	page = page.Context(context.Background())

	stop, err := intercept(page, c.blocked, c.auth)
	if err != nil {
		_ = page.Close()
		return nil, models.NewCrawlError(models.ErrCodeBrowserCrash, "failed to install request interceptor", err)
	}
	return &rodPage{page: page, stopIntercept: stop}, nil
}

func (c *rodContext) Close() error {
	err := proto.TargetDisposeBrowserContext{BrowserContextID: c.id}.Call(c.parent)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
