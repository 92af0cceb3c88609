// Package browser abstracts the browser automation backend. The engine
// depends only on the interfaces here; rod.go provides the CDP
// implementation.
package browser

import (
	"context"

	"github.com/use-agent/shopcrawl/antidetect"
	"github.com/use-agent/shopcrawl/platform"
	"github.com/use-agent/shopcrawl/proxy"
)

// Kind selects a browser engine. Browsers are pooled by kind.
type Kind string

const (
	// Chromium is rod's managed Chromium or the configured binary.
	Chromium Kind = "chromium"
	// Chrome is the system Chrome installation.
	Chrome Kind = "chrome"
)

// ContextOptions configures an isolated browsing session.
type ContextOptions struct {
	// Proxy routes all of the context's traffic. Nil means direct.
	Proxy *proxy.Entry
}

// Browser is a long-lived browser process shared by many tasks.
type Browser interface {
	Kind() Kind
	// NewContext opens an isolated session with its own cookies and storage.
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated session owned by exactly one task.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// Close disposes the session and every page in it.
	Close() error
}

// Page is a single tab.
type Page interface {
	antidetect.Page
	platform.Page
	Title(ctx context.Context) (string, error)

	// Navigate loads url and waits for the DOM to settle.
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Launcher starts a browser of the given kind.
type Launcher func(kind Kind) (Browser, error)
