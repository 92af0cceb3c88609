package antidetect

import (
	"math/rand/v2"

	"github.com/use-agent/shopcrawl/models"
)

// CommonViewports are the desktop resolutions picked from when a task does
// not pin its viewport.
var CommonViewports = []models.Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
}

var (
	fingerprintTimezones = []string{"Asia/Shanghai", "Asia/Chongqing", "Asia/Harbin"}
	fingerprintLanguages = [][]string{
		{"zh-CN", "zh", "en"},
		{"zh-CN", "en-US", "en"},
		{"zh-CN", "zh-TW", "en"},
	}
)

// Screen describes the emulated display.
type Screen struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	ColorDepth int `json:"colorDepth"`
}

// Fingerprint bundles the identity signals presented to a page.
type Fingerprint struct {
	UserAgent           string          `json:"userAgent"`
	Viewport            models.Viewport `json:"viewport"`
	Screen              Screen          `json:"screen"`
	Locale              string          `json:"locale"`
	Timezone            string          `json:"timezone"`
	Languages           []string        `json:"languages"`
	Platform            string          `json:"platform"`
	HardwareConcurrency int             `json:"hardwareConcurrency"`
}

// RandomViewport picks one of CommonViewports.
func RandomViewport() models.Viewport {
	return CommonViewports[rand.IntN(len(CommonViewports))]
}

// RandomFingerprint returns a complete randomized desktop identity.
func RandomFingerprint() Fingerprint {
	vp := RandomViewport()
	langs := fingerprintLanguages[rand.IntN(len(fingerprintLanguages))]
	return Fingerprint{
		UserAgent:           RandomUserAgent(Desktop),
		Viewport:            vp,
		Screen:              Screen{Width: vp.Width, Height: vp.Height, ColorDepth: 24},
		Locale:              langs[0],
		Timezone:            fingerprintTimezones[rand.IntN(len(fingerprintTimezones))],
		Languages:           append([]string(nil), langs...),
		Platform:            "Win32",
		HardwareConcurrency: rand.IntN(8) + 4,
	}
}
