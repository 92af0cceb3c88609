package antidetect

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document exposes what block detection reads from a loaded page.
type Document interface {
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// blockPatterns are phrases seen on verification and rate-limit pages.
var blockPatterns = compilePatterns(
	"验证码",
	"captcha",
	"robot",
	"blocked",
	"access denied",
	"请稍后再试",
	"too many requests",
	"rate limit",
	"cloudflare",
	"请开启javascript",
)

func compilePatterns(phrases ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(p)))
	}
	return out
}

// MatchBlocking reports the first block phrase found in title or text.
func MatchBlocking(title, text string) (string, bool) {
	for _, re := range blockPatterns {
		if m := re.FindString(title); m != "" {
			return m, true
		}
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

// DetectBlocking reports whether doc looks like a block or verification
// page. It is a signal only; nothing here retries or rotates identities.
func DetectBlocking(ctx context.Context, doc Document) (bool, error) {
	title, err := doc.Title(ctx)
	if err != nil {
		return false, err
	}
	html, err := doc.HTML(ctx)
	if err != nil {
		return false, err
	}
	_, blocked := MatchBlocking(title, bodyText(html))
	return blocked, nil
}

// bodyText returns the visible text of the document body.
func bodyText(html string) string {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	d.Find("script, style, noscript").Remove()
	return d.Find("body").Text()
}
