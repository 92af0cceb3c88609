package platform

import (
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

// taobaoPageSize is the item offset step of the s= pagination parameter.
const taobaoPageSize = 44

type taobao struct{ base }

func newTaobao() *taobao {
	return &taobao{base{
		name:    Taobao,
		baseURL: "https://www.taobao.com",
		ready:   ".tb-detail-hd",
		selectors: Selectors{
			Product: ProductSelectors{
				Title:         ".tb-detail-hd h1, .ItemTitle--mainTitle--jCOPAJY",
				Price:         ".tb-rmb-num, .Price--priceText--jqbzVat",
				OriginalPrice: ".tb-rmb-num, .Price--lineThrough--1c7R8p2",
				Image:         ".tb-booth-phone img, .ItemPictures--mainPic--1Kpkx8s img",
				Description:   ".tb-detail-bd, .ItemDescription--description--3sF2z6y",
				Shop:          ".tb-seller-name, .ShopHeader--name--3KPQY9K",
				Rating:        ".tb-rate-score, .ItemRating--score--2vC8cQs",
				Sales:         ".tb-count, .ItemSales--text--1jEXf6I",
				Attributes:    ".tb-property-cont, .ItemAttributes--list--2v8VJ8K",
				ImageAttr:     "data-src",
			},
			List: ListSelectors{
				Items:     ".item, .Card--doubleCardWrapper--L2XFE73",
				Title:     ".title a, .Title--title--jCOPAJY",
				Price:     ".price, .Price--priceText--jqbzVat",
				Image:     ".pic img, .MainPic--mainPic--rcLNaCv img",
				Link:      ".title a, .Card--doubleCardWrapper--L2XFE73 a",
				Shop:      ".shop, .ShopInfo--name--2s7gHjF",
				Sales:     ".deal-cnt, .SalesInfo--text--1jEXf6I",
				ImageAttr: "data-src",
			},
			Search: ListSelectors{
				Items:     ".item, .Card--doubleCardWrapper--L2XFE73",
				Title:     ".title a, .Title--title--jCOPAJY",
				Price:     ".price, .Price--priceText--jqbzVat",
				Image:     ".pic img, .MainPic--mainPic--rcLNaCv img",
				Link:      ".title a, .Card--doubleCardWrapper--L2XFE73 a",
				Shop:      ".shop, .ShopInfo--name--2s7gHjF",
				NextPage:  ".next, .PageNext--next--3Oy4cJv",
				ImageAttr: "data-src",
			},
		},
		options: BrowserOptions{
			Locale:         "zh-CN",
			Timezone:       "Asia/Shanghai",
			AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
		},
	}}
}

func (t *taobao) SearchURL(keyword string) string {
	return "https://s.taobao.com/search?q=" + url.QueryEscape(keyword) + "&sort=default"
}

func (t *taobao) PageURL(listURL string, n int) string {
	if n <= 1 {
		return listURL
	}
	return withQuery(listURL, "s", strconv.Itoa((n-1)*taobaoPageSize))
}

func (t *taobao) ParsePrice(text string) (float64, bool) { return parseDecimal(text, "¥￥") }
func (t *taobao) ParseRating(text string) (float64, bool) { return parseRating(text) }
func (t *taobao) ParseSales(text string) (int64, bool)    { return parseSales(text, "+") }

// NextPageEnabled: taobao hides the control on the last page.
func (t *taobao) NextPageEnabled(*goquery.Selection) bool { return true }
