package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/proxy"
	"golang.org/x/sync/errgroup"
)

// proxyReport is one line of the proxies command output.
type proxyReport struct {
	URL  string `json:"url"`
	Auth bool   `json:"auth"`
	OK   bool   `json:"ok"`
}

// NewProxiesCmd creates the proxies command.
func NewProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies [proxy-url...]",
		Short: "Test proxy connectivity",
		Long: `Proxies probes each proxy by fetching CRAWLER_PROXY_PROBE_URL through it.
Without arguments the pool from CRAWLER_PROXIES is tested. http, https,
socks5 and socks5h proxies are supported; credentials may be embedded as
user:pass@host.`,
		RunE: runProxiesCmd,
	}
	cmd.Flags().String("target", "", "Probe URL (default: CRAWLER_PROXY_PROBE_URL)")
	return cmd
}

func runProxiesCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Load().Proxy
	raws := args
	if len(raws) == 0 {
		raws = cfg.Proxies
	}
	entries := proxy.ParseEntries(raws)
	if len(entries) == 0 {
		return fmt.Errorf("no proxies to test: pass URLs or set CRAWLER_PROXIES")
	}

	target, _ := cmd.Flags().GetString("target")
	if target == "" {
		target = cfg.ProbeURL
	}

	ctx, stop := notifyContext(cmd)
	defer stop()

	reports := probeAll(ctx, proxy.NewProber(target), entries, int(cfg.ProbeTimeout.Milliseconds()))
	failed := 0
	for _, r := range reports {
		if !r.OK {
			failed++
		}
	}
	if err := printJSON(cmd, reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d proxies failed", failed, len(reports))
	}
	return nil
}

type prober interface {
	Test(ctx context.Context, e proxy.Entry) bool
}

// probeAll tests every entry concurrently, keeping input order.
func probeAll(ctx context.Context, p prober, entries []proxy.Entry, timeoutMs int) []proxyReport {
	reports := make([]proxyReport, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		if e.TimeoutMs == 0 {
			e.TimeoutMs = timeoutMs
		}
		g.Go(func() error {
			reports[i] = proxyReport{URL: e.URL, Auth: e.Auth != nil, OK: p.Test(ctx, e)}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
