package platform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

type fakePage struct {
	html    string
	url     string
	waited  []string
	htmlErr error
}

func (p *fakePage) WaitFor(_ context.Context, selector string, _ time.Duration) bool {
	p.waited = append(p.waited, selector)
	return strings.Contains(p.html, "class")
}

func (p *fakePage) HTML(context.Context) (string, error) { return p.html, p.htmlErr }
func (p *fakePage) URL() string                          { return p.url }

const jdProductHTML = `<html><body>
<div class="sku-name"> Logitech G502 Mouse </div>
<div class="p-price"><span class="price">￥1,299.00</span><span class="del">￥1,499.00</span></div>
<div class="preview"><img data-lazy-img="//img10.360buyimg.com/g502.jpg"></div>
<div class="shop-name">Logitech Flagship</div>
<div class="comment-count">2.3万+条评价</div>
<div class="comment-score">4.9</div>
<ul class="parameter2"><li>Weight: 121g</li><li> </li><li>DPI: 25600</li></ul>
<div class="detail-content">High precision <b>gaming</b> mouse</div>
</body></html>`

func TestExtractProductJD(t *testing.T) {
	a, _ := Lookup("jd")
	page := &fakePage{html: jdProductHTML, url: "https://item.jd.com/100.html"}

	p, err := ExtractProduct(context.Background(), a, page, ExtractOptions{WaitTimeout: time.Millisecond})
	if err != nil {
		t.Fatalf("ExtractProduct: %v", err)
	}

	if p.Platform != "jd" || p.URL != "https://item.jd.com/100.html" {
		t.Errorf("platform/url = %q %q", p.Platform, p.URL)
	}
	if p.Title != "Logitech G502 Mouse" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Price != 1299 || p.OriginalPrice != 1499 {
		t.Errorf("Price = %v OriginalPrice = %v", p.Price, p.OriginalPrice)
	}
	if p.Image != "https://img10.360buyimg.com/g502.jpg" {
		t.Errorf("Image = %q", p.Image)
	}
	if p.Sales != 23000 || p.Rating != 4.9 {
		t.Errorf("Sales = %d Rating = %v", p.Sales, p.Rating)
	}
	if len(p.Attributes) != 2 {
		t.Errorf("Attributes = %v, want blanks dropped", p.Attributes)
	}
	if p.Description != "High precision gaming mouse" {
		t.Errorf("Description = %q", p.Description)
	}
	if len(page.waited) != 1 || page.waited[0] != a.Selectors().Product.Title {
		t.Errorf("waited on %v", page.waited)
	}
}

func TestExtractProductMarkdownDescription(t *testing.T) {
	a, _ := Lookup("jd")
	page := &fakePage{html: jdProductHTML, url: "https://item.jd.com/100.html"}

	p, err := ExtractProduct(context.Background(), a, page, ExtractOptions{WaitTimeout: time.Millisecond, Markdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Description, "**gaming**") {
		t.Errorf("Description = %q, want markdown emphasis", p.Description)
	}
}

func TestExtractProductEmptyPageDegrades(t *testing.T) {
	a, _ := Lookup("amazon")
	page := &fakePage{html: "<html><body></body></html>", url: "https://www.amazon.com/dp/X"}

	p, err := ExtractProduct(context.Background(), a, page, ExtractOptions{WaitTimeout: time.Millisecond})
	if err != nil {
		t.Fatalf("missing elements must not fail extraction: %v", err)
	}
	if p.Title != "" || p.Price != 0 || p.Attributes != nil {
		t.Errorf("expected empty record, got %+v", p)
	}
}

func TestExtractProductHTMLError(t *testing.T) {
	a, _ := Lookup("taobao")
	page := &fakePage{htmlErr: context.DeadlineExceeded}
	if _, err := ExtractProduct(context.Background(), a, page, ExtractOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

const amazonSearchHTML = `<html><body>
<div data-component-type="s-search-result">
  <h2><a href="/dp/B001"><span>USB-C Cable</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$9.99</span></span>
  <img class="s-image" src="https://m.media-amazon.com/1.jpg">
</div>
<div data-component-type="s-search-result">
  <span class="a-price"><span class="a-offscreen">$1.00</span></span>
</div>
<div data-component-type="s-search-result">
  <h2><a href="https://www.amazon.com/dp/B002"><span>USB-C Hub</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$29.50</span></span>
</div>
<div data-component-type="s-search-result">
  <h2><a href="/dp/B003"><span>USB-C Charger</span></a></h2>
</div>
<ul><li class="s-pagination-next a-disabled">Next</li></ul>
</body></html>`

func TestExtractSearchAmazon(t *testing.T) {
	a, _ := Lookup("amazon")
	page := &fakePage{html: amazonSearchHTML}

	got, err := ExtractSearch(context.Background(), a, page, 2, ExtractOptions{WaitTimeout: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (capped, untitled skipped)", len(got))
	}
	if got[0].URL != "https://www.amazon.com/dp/B001" || got[0].Price != 9.99 || got[0].Image == "" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Title != "USB-C Hub" || got[1].URL != "https://www.amazon.com/dp/B002" {
		t.Errorf("second = %+v", got[1])
	}

	all, _ := ExtractSearch(context.Background(), a, page, 0, ExtractOptions{WaitTimeout: time.Millisecond})
	if len(all) != 3 {
		t.Errorf("uncapped got %d, want 3", len(all))
	}
}

func TestExtractListTaobao(t *testing.T) {
	a, _ := Lookup("taobao")
	html := `<html><body>
<div class="item"><div class="title"><a href="//item.taobao.com/1">Phone Case</a></div>
  <div class="price">¥19.90</div><div class="deal-cnt">1万+人付款</div>
  <div class="pic"><img data-src="//img.alicdn.com/1.jpg"></div></div>
<div class="item"><div class="price">¥1</div></div>
<a class="next" href="?s=44">下一页</a>
</body></html>`
	page := &fakePage{html: html}

	lp, err := ExtractList(context.Background(), a, page, ExtractOptions{WaitTimeout: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if len(lp.Products) != 1 {
		t.Fatalf("got %d products, want 1", len(lp.Products))
	}
	p := lp.Products[0]
	if p.URL != "https://item.taobao.com/1" || p.Price != 19.9 || p.Sales != 10000 || p.Image != "https://img.alicdn.com/1.jpg" {
		t.Errorf("product = %+v", p)
	}
	if !lp.HasNext {
		t.Error("taobao next control present, HasNext should be true")
	}
}

func TestHasNextPage(t *testing.T) {
	tests := []struct {
		platform string
		html     string
		want     bool
	}{
		{"taobao", `<a class="next">next</a>`, true},
		{"taobao", `<p>end</p>`, false},
		{"jd", `<a class="pn-next">next</a>`, true},
		{"jd", `<a class="pn-next disabled">next</a>`, false},
		{"jd", `<button class="pn-next" disabled>next</button>`, false},
		{"amazon", `<a class="s-pagination-next">Next</a>`, true},
		{"amazon", `<span class="s-pagination-next a-disabled">Next</span>`, false},
		{"amazon", `<a class="s-pagination-next" aria-disabled="true">Next</a>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.platform+"/"+tt.html, func(t *testing.T) {
			a, _ := Lookup(tt.platform)
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatal(err)
			}
			if got := HasNextPage(a, doc); got != tt.want {
				t.Errorf("HasNextPage = %v, want %v", got, tt.want)
			}
		})
	}
}
