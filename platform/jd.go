package platform

import (
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

type jd struct{ base }

func newJD() *jd {
	return &jd{base{
		name:    JD,
		baseURL: "https://www.jd.com",
		ready:   ".sku-name",
		selectors: Selectors{
			Product: ProductSelectors{
				Title:         ".sku-name, .product-intro h1",
				Price:         ".price, .p-price .price",
				OriginalPrice: ".p-price .del, .origin-price",
				Image:         ".spec-list img, .preview img",
				Description:   ".detail-content, .product-detail",
				Shop:          ".shop-name, .seller-name",
				Rating:        ".comment-score, .score-average",
				Sales:         ".comment-count, .sales-amount",
				Attributes:    ".parameter2 li, .Ptable-item",
				ImageAttr:     "data-lazy-img",
			},
			List: ListSelectors{
				Items:     ".gl-item, .goods-item",
				Title:     ".p-name a, .goods-name",
				Price:     ".p-price i, .goods-price",
				Image:     ".p-img img, .goods-img img",
				Link:      ".p-name a, .goods-item a",
				Shop:      ".p-shop, .shop-name",
				Sales:     ".p-commit, .sales-info",
				ImageAttr: "data-lazy-img",
			},
			Search: ListSelectors{
				Items:     ".gl-item, .goods-item",
				Title:     ".p-name a, .goods-name",
				Price:     ".p-price i, .goods-price",
				Image:     ".p-img img, .goods-img img",
				Link:      ".p-name a, .goods-item a",
				Shop:      ".p-shop, .shop-name",
				NextPage:  ".pn-next, .next",
				ImageAttr: "data-lazy-img",
			},
		},
		options: BrowserOptions{
			Locale:         "zh-CN",
			Timezone:       "Asia/Shanghai",
			AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
		},
	}}
}

func (j *jd) SearchURL(keyword string) string {
	return "https://search.jd.com/Search?keyword=" + url.QueryEscape(keyword) + "&enc=utf-8"
}

// PageURL: jd numbers half pages, so visible page n is page=2n-1.
func (j *jd) PageURL(listURL string, n int) string {
	if n <= 1 {
		return listURL
	}
	return withQuery(listURL, "page", strconv.Itoa(2*n-1))
}

func (j *jd) ParsePrice(text string) (float64, bool) { return parseDecimal(text, "¥￥") }
func (j *jd) ParseRating(text string) (float64, bool) { return parseRating(text) }
func (j *jd) ParseSales(text string) (int64, bool)    { return parseSales(text, "+条评价") }

func (j *jd) NextPageEnabled(next *goquery.Selection) bool {
	_, disabled := next.Attr("disabled")
	return !next.HasClass("disabled") && !disabled
}
