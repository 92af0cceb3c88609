package browser

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/shopcrawl/proxy"
)

var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

func blockedTypes(names []string) map[proto.NetworkResourceType]struct{} {
	m := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, n := range names {
		if rt, ok := resourceTypes[n]; ok {
			m[rt] = struct{}{}
		} else {
			slog.Warn("unknown resource type in block list", "type", n)
		}
	}
	return m
}

// trackerDomains are analytics and ad hosts seen on the supported
// storefronts. Blocking them shortens page settle time.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googletagmanager.com":  {},
	"google-analytics.com":  {},
	"amazon-adsystem.com":   {},
	"adnxs.com":             {},
	"criteo.com":            {},
	"scorecardresearch.com": {},
	"hm.baidu.com":          {},
	"cnzz.com":              {},
	"umeng.com":             {},
	"tanx.com":              {},
	"mmstat.com":            {},
	"alimama.com":           {},
	"jd-adserver.com":       {},
	"hotjar.com":            {},
}

// isTrackerHost reports whether host or any parent domain is a tracker.
func isTrackerHost(host string) bool {
	host = strings.ToLower(host)
	for {
		if _, ok := trackerDomains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
		if !strings.Contains(host, ".") {
			return false
		}
	}
}

func shouldBlock(e *proto.FetchRequestPaused, blocked map[proto.NetworkResourceType]struct{}) bool {
	if _, ok := blocked[e.ResourceType]; ok {
		return true
	}
	u, err := url.Parse(e.Request.URL)
	if err != nil {
		return false
	}
	return isTrackerHost(u.Hostname())
}

// intercept enables the Fetch domain on page to drop blocked resources
// and answer proxy authentication challenges. The returned func stops
// the event loop.
func intercept(page *rod.Page, blocked map[proto.NetworkResourceType]struct{}, auth *proxy.Auth) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := page.Context(ctx)

	enable := proto.FetchEnable{
		Patterns:           []*proto.FetchRequestPattern{{URLPattern: "*"}},
		HandleAuthRequests: auth != nil,
	}

	// Subscribe before enabling so no paused request is missed.
	wait := p.EachEvent(
		func(e *proto.FetchRequestPaused) {
			go func() {
				var err error
				if shouldBlock(e, blocked) {
					err = proto.FetchFailRequest{
						RequestID:   e.RequestID,
						ErrorReason: proto.NetworkErrorReasonBlockedByClient,
					}.Call(p)
				} else {
					err = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
				}
				if err != nil {
					slog.Debug("fetch intercept", "url", e.Request.URL, "error", err)
				}
			}()
		},
		func(e *proto.FetchAuthRequired) {
			go func() {
				resp := &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseDefault,
				}
				if auth != nil && e.AuthChallenge != nil && e.AuthChallenge.Source == proto.FetchAuthChallengeSourceProxy {
					resp = &proto.FetchAuthChallengeResponse{
						Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
						Username: auth.Username,
						Password: auth.Password,
					}
				}
				err := proto.FetchContinueWithAuth{RequestID: e.RequestID, AuthChallengeResponse: resp}.Call(p)
				if err != nil {
					slog.Debug("proxy auth", "error", err)
				}
			}()
		},
	)

	if err := enable.Call(p); err != nil {
		cancel()
		return nil, err
	}
	go wait()

	return cancel, nil
}
