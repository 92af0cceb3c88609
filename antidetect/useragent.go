package antidetect

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// DeviceCategory selects the family of user agents to draw from.
type DeviceCategory string

const (
	Desktop DeviceCategory = "desktop"
	Mobile  DeviceCategory = "mobile"
)

var (
	desktopPlatforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Windows NT 10.0; WOW64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"Macintosh; Intel Mac OS X 13_5_2",
		"X11; Linux x86_64",
	}
	mobilePlatforms = []string{
		"Linux; Android 13; Pixel 7",
		"Linux; Android 14; SM-S918B",
		"Linux; Android 12; M2102J20SG",
		"iPhone; CPU iPhone OS 17_4 like Mac OS X",
		"iPhone; CPU iPhone OS 16_6 like Mac OS X",
	}
	chromeMajors = []int{118, 119, 120, 121, 122, 123, 124}
)

// RandomUserAgent returns a plausible Chrome user agent for the category.
// Unknown categories are treated as desktop.
func RandomUserAgent(category DeviceCategory) string {
	major := chromeMajors[rand.IntN(len(chromeMajors))]
	build := rand.IntN(6000) + 1000
	patch := rand.IntN(200)

	if category == Mobile {
		platform := mobilePlatforms[rand.IntN(len(mobilePlatforms))]
		if strings.HasPrefix(platform, "iPhone") {
			return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/%d.0.%d.%d Mobile/15E148 Safari/604.1",
				platform, major, build, patch)
		}
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.%d Mobile Safari/537.36",
			platform, major, build, patch)
	}

	platform := desktopPlatforms[rand.IntN(len(desktopPlatforms))]
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.%d Safari/537.36",
		platform, major, build, patch)
}
