package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

type rodPage struct {
	page          *rod.Page
	stopIntercept func()
	lastURL       string
}

// ── antidetect.Page ──────────────────────────────────────────────────

func (p *rodPage) AddInitScript(js string) error {
	_, err := p.page.EvalOnNewDocument(js)
	return err
}

func (p *rodPage) SetUserAgent(ua, acceptLanguage, platform string) error {
	return p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: acceptLanguage,
		Platform:       platform,
	})
}

func (p *rodPage) SetViewport(width, height int) error {
	return p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (p *rodPage) SetExtraHeaders(headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	return proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(p.page)
}

func (p *rodPage) SetTimezone(id string) error {
	return proto.EmulationSetTimezoneOverride{TimezoneID: id}.Call(p.page)
}

func (p *rodPage) SetLocale(locale string) error {
	return proto.EmulationSetLocaleOverride{Locale: locale}.Call(p.page)
}

// ── navigation and reads ─────────────────────────────────────────────

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pc := p.page.Context(ctx)
	if err := pc.Navigate(url); err != nil {
		return err
	}
	p.lastURL = url
	if err := pc.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"url", url,
			"error", err,
		)
	}
	return ctx.Err()
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	return err == nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// URL returns the current location, falling back to the last navigated URL.
func (p *rodPage) URL() string {
	res, err := p.page.Eval(`() => window.location.href`)
	if err != nil || res.Value.Str() == "" {
		return p.lastURL
	}
	return res.Value.Str()
}

func (p *rodPage) Close() error {
	if p.stopIntercept != nil {
		p.stopIntercept()
	}
	return p.page.Close()
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
