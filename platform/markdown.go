package platform

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	mdbase "github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

// markdownConverter is goroutine-safe and shared by all extractions.
//
//   - base plugin: strips script, style, iframe and similar noise.
//   - commonmark plugin: lists, emphasis, links, headings.
//   - table plugin: spec tables on product pages keep their structure.
var markdownConverter = converter.NewConverter(
	converter.WithPlugins(
		mdbase.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(
			table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
		),
	),
)

// descriptionMarkdown renders the first match, or every match when join is
// set, as Markdown with links resolved against domain.
func descriptionMarkdown(matches *goquery.Selection, domain string, join bool) string {
	if !join {
		matches = matches.First()
	}
	var parts []string
	matches.Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		md, err := markdownConverter.ConvertString(html, converter.WithDomain(domain))
		if err != nil {
			slog.Debug("markdown conversion failed", "error", err)
			return
		}
		if md = strings.TrimSpace(md); md != "" {
			parts = append(parts, md)
		}
	})
	return strings.Join(parts, "\n\n")
}
