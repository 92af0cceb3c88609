package platform

import (
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/shopcrawl/models"
)

// Platform identifies a supported marketplace.
type Platform string

const (
	Taobao Platform = "taobao"
	JD     Platform = "jd"
	Amazon Platform = "amazon"
)

// ProductSelectors locate fields on a product detail page. Each value is a
// selector group whose alternates cover layout variants.
type ProductSelectors struct {
	Title         string
	Price         string
	OriginalPrice string
	Image         string
	Description   string
	Shop          string
	Rating        string
	Sales         string
	Attributes    string

	// ImageAttr is read when the image has no src (lazy loading).
	ImageAttr string
	// JoinDescription concatenates every description match instead of
	// taking the first.
	JoinDescription bool
}

// ListSelectors locate items on a listing or search results page.
// Field selectors are evaluated inside each item.
type ListSelectors struct {
	Items    string
	Title    string
	Price    string
	Image    string
	Link     string
	Shop     string
	Sales    string
	NextPage string

	ImageAttr string
}

// Selectors groups the three page kinds an adapter understands.
type Selectors struct {
	Product ProductSelectors
	List    ListSelectors
	Search  ListSelectors
}

// BrowserOptions are the per-platform identity defaults.
type BrowserOptions struct {
	Locale         string
	Timezone       string
	AcceptLanguage string
	Headers        map[string]string
}

// Adapter translates generic crawl operations into one marketplace's
// selectors, URL scheme and text conventions. Implementations are stateless.
type Adapter interface {
	Platform() Platform
	BaseURL() string
	Selectors() *Selectors
	BrowserOptions() BrowserOptions

	// ReadySelector is awaited after navigation before extraction.
	ReadySelector() string
	SearchURL(keyword string) string
	// PageURL returns the URL of the 1-based page n of a listing.
	PageURL(listURL string, n int) string

	ParsePrice(text string) (float64, bool)
	ParseRating(text string) (float64, bool)
	ParseSales(text string) (int64, bool)
	NormalizeURL(raw string) string

	// NextPageEnabled reports whether the matched next-page control is
	// usable. It is only called when the control exists.
	NextPageEnabled(next *goquery.Selection) bool
}

// registry is built once; adapters are shared read-only by all tasks.
var registry = map[Platform]Adapter{
	Taobao: newTaobao(),
	JD:     newJD(),
	Amazon: newAmazon(),
}

func init() {
	for _, a := range registry {
		mustCompileSelectors(a.Selectors())
	}
}

// Lookup resolves a platform name to its adapter. Unknown names fail with
// an UNSUPPORTED_PLATFORM error.
func Lookup(name string) (Adapter, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	a, ok := registry[p]
	if !ok {
		return nil, models.NewCrawlError(models.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("unsupported platform: %q", name), nil)
	}
	return a, nil
}

// Names returns the supported platform names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for p := range registry {
		out = append(out, string(p))
	}
	slices.Sort(out)
	return out
}

// base carries the fields every adapter shares.
type base struct {
	name      Platform
	baseURL   string
	selectors Selectors
	options   BrowserOptions
	ready     string
}

func (b *base) Platform() Platform             { return b.name }
func (b *base) BaseURL() string                { return b.baseURL }
func (b *base) Selectors() *Selectors          { return &b.selectors }
func (b *base) BrowserOptions() BrowserOptions { return b.options }
func (b *base) ReadySelector() string          { return b.ready }

func (b *base) NormalizeURL(raw string) string {
	return normalizeURL(b.baseURL, raw)
}
