package antidetect

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-rod/stealth"
	"github.com/use-agent/shopcrawl/models"
)

// Page is the subset of a browser page that hardening needs.
// Every call must take effect before the first navigation.
type Page interface {
	AddInitScript(js string) error
	SetUserAgent(userAgent, acceptLanguage, platform string) error
	SetViewport(width, height int) error
	SetExtraHeaders(headers map[string]string) error
	SetTimezone(timezoneID string) error
	SetLocale(locale string) error
}

// DefaultHeaders is the realistic header set sent with every request.
var DefaultHeaders = map[string]string{
	"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
	"Accept-Encoding":           "gzip, deflate, br",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Upgrade-Insecure-Requests": "1",
	"Cache-Control":             "max-age=0",
}

// Options pins parts of the identity. Empty fields are randomized or
// taken from the defaults.
type Options struct {
	UserAgent      string
	Viewport       *models.Viewport
	Locale         string
	Timezone       string
	AcceptLanguage string
	// Headers are merged over DefaultHeaders.
	Headers map[string]string
}

// initScript runs before any page script. The %s verbs receive JSON
// literals for the language list, then the platform, then the core count.
const initScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  const plugins = [
    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
    { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
  ];
  Object.defineProperty(navigator, 'plugins', { get: () => plugins });
  Object.defineProperty(navigator, 'mimeTypes', {
    get: () => [{ type: 'application/pdf', suffixes: 'pdf', description: 'Portable Document Format' }],
  });

  const languages = %s;
  Object.defineProperty(navigator, 'languages', { get: () => languages });
  Object.defineProperty(navigator, 'platform', { get: () => %s });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %s });

  window.chrome = window.chrome || {};
  window.chrome.runtime = window.chrome.runtime || {};
  window.chrome.loadTimes = window.chrome.loadTimes || function () { return {}; };
  window.chrome.csi = window.chrome.csi || function () { return {}; };
  window.chrome.app = window.chrome.app || { isInstalled: false };

  if (navigator.permissions && navigator.permissions.query) {
    const originalQuery = navigator.permissions.query.bind(navigator.permissions);
    navigator.permissions.query = (parameters) =>
      parameters && parameters.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(parameters);
  }
})();`

// BuildInitScript renders the hardening script for a fingerprint.
func BuildInitScript(fp Fingerprint) string {
	langs, _ := json.Marshal(fp.Languages)
	platform, _ := json.Marshal(fp.Platform)
	return fmt.Sprintf(initScript, langs, platform, fmt.Sprint(fp.HardwareConcurrency))
}

// Setup hardens page against basic bot detection and returns the identity
// it applied. It must run before the page navigates anywhere.
func Setup(page Page, opts Options) (Fingerprint, error) {
	fp := RandomFingerprint()
	if opts.UserAgent != "" {
		fp.UserAgent = opts.UserAgent
	}
	if opts.Viewport != nil && opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		fp.Viewport = *opts.Viewport
		fp.Screen.Width, fp.Screen.Height = opts.Viewport.Width, opts.Viewport.Height
	}
	if opts.Locale != "" {
		fp.Locale = opts.Locale
		if fp.Languages[0] != opts.Locale {
			fp.Languages = append([]string{opts.Locale}, fp.Languages...)
		}
	}
	if opts.Timezone != "" {
		fp.Timezone = opts.Timezone
	}

	headers := maps.Clone(DefaultHeaders)
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}
	maps.Copy(headers, opts.Headers)

	if err := page.AddInitScript(stealth.JS); err != nil {
		return fp, fmt.Errorf("antidetect: stealth script: %w", err)
	}
	if err := page.AddInitScript(BuildInitScript(fp)); err != nil {
		return fp, fmt.Errorf("antidetect: init script: %w", err)
	}
	if err := page.SetUserAgent(fp.UserAgent, headers["Accept-Language"], fp.Platform); err != nil {
		return fp, fmt.Errorf("antidetect: user agent: %w", err)
	}
	if err := page.SetViewport(fp.Viewport.Width, fp.Viewport.Height); err != nil {
		return fp, fmt.Errorf("antidetect: viewport: %w", err)
	}
	if err := page.SetExtraHeaders(headers); err != nil {
		return fp, fmt.Errorf("antidetect: headers: %w", err)
	}
	if err := page.SetTimezone(fp.Timezone); err != nil {
		return fp, fmt.Errorf("antidetect: timezone: %w", err)
	}
	if err := page.SetLocale(fp.Locale); err != nil {
		return fp, fmt.Errorf("antidetect: locale: %w", err)
	}
	return fp, nil
}
