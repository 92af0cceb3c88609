package platform

import (
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

type amazon struct{ base }

func newAmazon() *amazon {
	return &amazon{base{
		name:    Amazon,
		baseURL: "https://www.amazon.com",
		ready:   "#productTitle",
		selectors: Selectors{
			Product: ProductSelectors{
				Title:           "#productTitle, .product-title",
				Price:           ".a-price-whole, .a-offscreen, .a-price .a-offscreen",
				OriginalPrice:   ".a-price.a-text-price .a-offscreen, .priceBlockStrikePriceString",
				Image:           "#landingImage, .a-dynamic-image",
				Description:     "#feature-bullets ul, .a-unordered-list",
				Shop:            "#bylineInfo, .a-link-normal",
				Rating:          ".a-icon-alt, .reviewCountTextLinkedHistogram",
				Sales:           ".social-proofing-faceout-title-tk_bought",
				Attributes:      ".a-unordered-list .a-list-item",
				ImageAttr:       "data-old-hires",
				JoinDescription: true,
			},
			List: ListSelectors{
				Items: `[data-component-type="s-search-result"], .s-result-item`,
				Title: "h2 a span, .s-size-mini .s-link-style a",
				Price: ".a-price .a-offscreen, .a-price-whole",
				Image: ".s-image, .a-dynamic-image",
				Link:  "h2 a, .s-link-style a",
				Shop:  ".a-size-base-plus, .s-link-style",
				Sales: ".a-size-base",
			},
			Search: ListSelectors{
				Items:    `[data-component-type="s-search-result"], .s-result-item`,
				Title:    "h2 a span, .s-size-mini .s-link-style a",
				Price:    ".a-price .a-offscreen, .a-price-whole",
				Image:    ".s-image, .a-dynamic-image",
				Link:     "h2 a, .s-link-style a",
				Shop:     ".a-size-base-plus, .s-link-style",
				NextPage: ".s-pagination-next, .a-last a",
			},
		},
		options: BrowserOptions{
			Locale:         "en-US",
			Timezone:       "America/New_York",
			AcceptLanguage: "en-US,en;q=0.9",
		},
	}}
}

func (a *amazon) SearchURL(keyword string) string {
	return "https://www.amazon.com/s?k=" + url.QueryEscape(keyword) + "&ref=sr_pg_1"
}

func (a *amazon) PageURL(listURL string, n int) string {
	if n <= 1 {
		return listURL
	}
	return withQuery(listURL, "page", strconv.Itoa(n))
}

func (a *amazon) ParsePrice(text string) (float64, bool) { return parseDecimal(text, "$") }

// ParseRating reads "4.5 out of 5 stars".
func (a *amazon) ParseRating(text string) (float64, bool) { return parseOutOfFive(text) }
func (a *amazon) ParseSales(text string) (int64, bool)    { return parseSales(text, "+") }

func (a *amazon) NextPageEnabled(next *goquery.Selection) bool {
	return !next.HasClass("a-disabled") && next.AttrOr("aria-disabled", "") != "true"
}
