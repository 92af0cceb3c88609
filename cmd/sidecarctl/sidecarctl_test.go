package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/use-agent/shopcrawl/models"
	"github.com/use-agent/shopcrawl/proxy"
)

func TestTaskFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    models.TaskType
		wantErr bool
	}{
		{"product alias", []string{"--platform", "jd", "--url", "https://item.jd.com/1.html"}, models.TaskSingleProduct, false},
		{"search", []string{"-t", "search", "-p", "taobao", "-k", "键盘", "-o", `{"maxResults":10}`}, models.TaskSearchProducts, false},
		{"batch", []string{"-t", "batch_crawl", "-p", "jd", "--urls", "https://a,https://b"}, models.TaskBatchCrawl, false},
		{"missing target", []string{"-t", "list", "-p", "jd"}, "", true},
		{"bad options", []string{"-p", "jd", "-u", "https://a", "-o", "{"}, "", true},
		{"type mismatch", []string{"-t", "search", "-p", "jd", "-u", "https://a"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCrawlCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}
			task, err := taskFromFlags(cmd)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got task %+v", task)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if task.Type != tt.want {
				t.Errorf("type = %s, want %s", task.Type, tt.want)
			}
		})
	}
}

func TestTaskFromFlagsOptions(t *testing.T) {
	cmd := NewCrawlCmd()
	_ = cmd.ParseFlags([]string{"-t", "search", "-p", "taobao", "-k", "mouse", "-o", `{"maxResults":10,"proxy":true}`})
	task, err := taskFromFlags(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if task.Options.MaxResults != 10 || !task.Options.Proxy {
		t.Errorf("options = %+v", task.Options)
	}
}

type stubProber struct {
	mu   sync.Mutex
	seen map[string]int
	bad  string
}

func (s *stubProber) Test(_ context.Context, e proxy.Entry) bool {
	s.mu.Lock()
	s.seen[e.URL] = e.TimeoutMs
	s.mu.Unlock()
	return e.URL != s.bad
}

func TestProbeAllKeepsOrder(t *testing.T) {
	entries := proxy.ParseEntries([]string{"http://a:1", "socks5://u:p@b:2", "c:3"})
	p := &stubProber{seen: map[string]int{}, bad: "socks5://b:2"}

	reports := probeAll(context.Background(), p, entries, 2500)
	if len(reports) != 3 {
		t.Fatalf("reports = %+v", reports)
	}
	if reports[0].URL != "http://a:1" || !reports[0].OK {
		t.Errorf("reports[0] = %+v", reports[0])
	}
	if reports[1].OK || !reports[1].Auth {
		t.Errorf("reports[1] = %+v", reports[1])
	}
	if reports[2].URL != "http://c:3" || !reports[2].OK {
		t.Errorf("reports[2] = %+v", reports[2])
	}
	for url, timeout := range p.seen {
		if timeout != 2500 {
			t.Errorf("%s probed with timeout %d", url, timeout)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "sidecarctl version ") {
		t.Errorf("output = %q", out.String())
	}
}
