package platform

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	decimalRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	magnitudeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)([万千wWkK]?)`)
	outOfFiveRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*out\s*of\s*5`)
)

// parseDecimal removes every rune of strip plus thousands separators and
// returns the first decimal number in text.
func parseDecimal(text, strip string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || strings.ContainsRune(strip, r) {
			return -1
		}
		return r
	}, text)
	m := decimalRe.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseRating returns the first decimal number in text if it lies in [0,5].
func parseRating(text string) (float64, bool) {
	v, ok := parseDecimal(text, "")
	return clampRating(v, ok)
}

// parseOutOfFive reads ratings written as "4.5 out of 5 stars".
func parseOutOfFive(text string) (float64, bool) {
	m := outOfFiveRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return clampRating(v, err == nil)
}

func clampRating(v float64, ok bool) (float64, bool) {
	if !ok || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// parseSales removes the given qualifier runes and thousands separators,
// then resolves a magnitude suffix directly after the number:
// 万/w multiply by 10,000 and 千/k by 1,000. The result is floored.
func parseSales(text, strip string) (int64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || strings.ContainsRune(strip, r) {
			return -1
		}
		return r
	}, text)
	m := magnitudeRe.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "万", "w", "W":
		v *= 10000
	case "千", "k", "K":
		v *= 1000
	}
	// 1e-6 absorbs binary representation error such as 2.3*10000.
	return int64(math.Floor(v + 1e-6)), true
}

// normalizeURL makes raw absolute against baseURL. Absolute URLs pass
// through; protocol-relative URLs get https:; root-relative URLs get the
// base URL prefixed.
func normalizeURL(baseURL, raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return strings.TrimRight(baseURL, "/") + raw
	}
	return raw
}

// withQuery returns rawURL with key set to value. Unparseable URLs are
// returned unchanged.
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
