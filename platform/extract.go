package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/shopcrawl/models"
)

// Page is what extraction reads from a loaded browser page. Extraction
// only ever snapshots the DOM; it never mutates the live page.
type Page interface {
	// WaitFor blocks until selector matches or timeout elapses and
	// reports whether it matched.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) bool
	HTML(ctx context.Context) (string, error)
	URL() string
}

// ExtractOptions tunes a single extraction.
type ExtractOptions struct {
	// WaitTimeout bounds the wait for the container selector. A timed-out
	// wait is not an error; extraction proceeds on whatever rendered.
	WaitTimeout time.Duration // default: 10s
	// Markdown renders product descriptions as Markdown.
	Markdown bool
}

func (o ExtractOptions) waitTimeout() time.Duration {
	if o.WaitTimeout <= 0 {
		return 10 * time.Second
	}
	return o.WaitTimeout
}

// ListPage is one page of listing results.
type ListPage struct {
	Products []models.Product
	HasNext  bool
}

var matchers sync.Map // selector group -> cascadia.Selector

// matcher returns the compiled form of a selector group, compiling and
// caching it on first use.
func matcher(group string) (cascadia.Selector, error) {
	if m, ok := matchers.Load(group); ok {
		return m.(cascadia.Selector), nil
	}
	m, err := cascadia.Compile(group)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", group, err)
	}
	matchers.Store(group, m)
	return m, nil
}

func mustCompileSelectors(s *Selectors) {
	groups := []string{
		s.Product.Title, s.Product.Price, s.Product.OriginalPrice, s.Product.Image,
		s.Product.Description, s.Product.Shop, s.Product.Rating, s.Product.Sales,
		s.Product.Attributes,
	}
	for _, l := range []ListSelectors{s.List, s.Search} {
		groups = append(groups, l.Items, l.Title, l.Price, l.Image, l.Link, l.Shop, l.Sales, l.NextPage)
	}
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, err := matcher(g); err != nil {
			panic(err)
		}
	}
}

// find returns the matches of group under s in document order.
func find(s *goquery.Selection, group string) *goquery.Selection {
	if group == "" {
		return s.Slice(0, 0)
	}
	m, err := matcher(group)
	if err != nil {
		return s.Slice(0, 0)
	}
	return s.FindMatcher(m)
}

func firstText(s *goquery.Selection, group string) string {
	return strings.TrimSpace(find(s, group).First().Text())
}

func allTexts(s *goquery.Selection, group string) []string {
	var out []string
	find(s, group).Each(func(_ int, el *goquery.Selection) {
		if t := strings.TrimSpace(el.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// firstAttr reads attr from the first match, falling back to fallback when
// attr is missing or empty.
func firstAttr(s *goquery.Selection, group, attr, fallback string) string {
	el := find(s, group).First()
	if v := strings.TrimSpace(el.AttrOr(attr, "")); v != "" {
		return v
	}
	if fallback != "" {
		return strings.TrimSpace(el.AttrOr(fallback, ""))
	}
	return ""
}

// snapshot waits for container (bounded) and parses the current DOM.
func snapshot(ctx context.Context, p Page, container string, timeout time.Duration) (*goquery.Document, error) {
	if container != "" {
		p.WaitFor(ctx, container, timeout)
	}
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, models.CategorizeError(err, "failed to read page html")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeExtraction, "failed to parse page html", err)
	}
	return doc, nil
}

// ExtractProduct reads a product detail page.
func ExtractProduct(ctx context.Context, a Adapter, p Page, opts ExtractOptions) (*models.Product, error) {
	sel := a.Selectors().Product
	doc, err := snapshot(ctx, p, sel.Title, opts.waitTimeout())
	if err != nil {
		return nil, err
	}
	root := doc.Selection

	var desc string
	switch {
	case opts.Markdown:
		desc = descriptionMarkdown(find(root, sel.Description), a.BaseURL(), sel.JoinDescription)
	case sel.JoinDescription:
		desc = strings.Join(allTexts(root, sel.Description), " ")
	default:
		desc = firstText(root, sel.Description)
	}

	prod := format(a, rawItem{
		title:         firstText(root, sel.Title),
		price:         firstText(root, sel.Price),
		originalPrice: firstText(root, sel.OriginalPrice),
		image:         firstAttr(root, sel.Image, "src", sel.ImageAttr),
		shop:          firstText(root, sel.Shop),
		rating:        firstText(root, sel.Rating),
		sales:         firstText(root, sel.Sales),
		description:   desc,
		attributes:    allTexts(root, sel.Attributes),
	}, p.URL())
	return &prod, nil
}

// ExtractList reads one page of a product listing and whether a usable
// next-page control is present.
func ExtractList(ctx context.Context, a Adapter, p Page, opts ExtractOptions) (*ListPage, error) {
	doc, err := snapshot(ctx, p, a.Selectors().List.Items, opts.waitTimeout())
	if err != nil {
		return nil, err
	}
	return &ListPage{
		Products: items(a, doc.Selection, a.Selectors().List, 0),
		HasNext:  HasNextPage(a, doc),
	}, nil
}

// ExtractSearch reads up to limit search results. limit <= 0 means no cap.
func ExtractSearch(ctx context.Context, a Adapter, p Page, limit int, opts ExtractOptions) ([]models.Product, error) {
	doc, err := snapshot(ctx, p, a.Selectors().Search.Items, opts.waitTimeout())
	if err != nil {
		return nil, err
	}
	return items(a, doc.Selection, a.Selectors().Search, limit), nil
}

// HasNextPage checks the adapter's next-page control in doc.
func HasNextPage(a Adapter, doc *goquery.Document) bool {
	next := find(doc.Selection, a.Selectors().Search.NextPage).First()
	if next.Length() == 0 {
		return false
	}
	return a.NextPageEnabled(next)
}

// items extracts listing entries. Entries without a title are skipped.
func items(a Adapter, root *goquery.Selection, sel ListSelectors, limit int) []models.Product {
	out := []models.Product{}
	find(root, sel.Items).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		title := firstText(item, sel.Title)
		if title == "" {
			return true
		}
		out = append(out, format(a, rawItem{
			title: title,
			price: firstText(item, sel.Price),
			image: firstAttr(item, sel.Image, "src", sel.ImageAttr),
			link:  firstAttr(item, sel.Link, "href", ""),
			shop:  firstText(item, sel.Shop),
			sales: firstText(item, sel.Sales),
		}, ""))
		return limit <= 0 || len(out) < limit
	})
	return out
}

type rawItem struct {
	title, price, originalPrice, image, link string
	shop, rating, sales, description         string
	attributes                               []string
}

// format normalizes raw strings into a Product. pageURL wins over the
// item link when set.
func format(a Adapter, raw rawItem, pageURL string) models.Product {
	p := models.Product{
		Platform:    string(a.Platform()),
		URL:         pageURL,
		Title:       raw.title,
		Image:       a.NormalizeURL(raw.image),
		Shop:        raw.shop,
		Description: raw.description,
		Attributes:  raw.attributes,
		ExtractedAt: models.Now(),
	}
	if p.URL == "" {
		p.URL = a.NormalizeURL(raw.link)
	}
	if v, ok := a.ParsePrice(raw.price); ok {
		p.Price = v
	}
	if v, ok := a.ParsePrice(raw.originalPrice); ok {
		p.OriginalPrice = v
	}
	if v, ok := a.ParseRating(raw.rating); ok {
		p.Rating = v
	}
	if v, ok := a.ParseSales(raw.sales); ok {
		p.Sales = v
	}
	return p
}
