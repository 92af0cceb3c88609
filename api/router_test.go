package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
)

type fakeCrawler struct {
	got    *models.CrawlTask
	result *models.CrawlResult
}

func (f *fakeCrawler) Execute(_ context.Context, task *models.CrawlTask) *models.CrawlResult {
	f.got = task
	if f.result != nil {
		f.result.TaskID = task.ID
		return f.result
	}
	return &models.CrawlResult{TaskID: task.ID, Success: true, Data: []models.Product{}, Timestamp: models.Now()}
}

func (f *fakeCrawler) Status() models.EngineStatus {
	return models.EngineStatus{IsInitialized: true, ActiveTasks: 1, Browsers: 2}
}

func newTestRouter(cr *fakeCrawler, mutate func(*config.Config)) *gin.Engine {
	cfg := &config.Config{}
	cfg.Server.Mode = gin.TestMode
	cfg.Server.EnableMetrics = true
	if mutate != nil {
		mutate(cfg)
	}
	return NewRouter(cr, cfg, 43210, time.Now().Add(-time.Minute))
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCrawlDispatchesTask(t *testing.T) {
	cr := &fakeCrawler{}
	r := newTestRouter(cr, nil)

	w := do(r, http.MethodPost, "/crawl",
		`{"id":"t-1","type":"search","platform":"jd","keyword":"mouse","options":{"maxResults":5}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if cr.got == nil || cr.got.Type != models.TaskSearchProducts || cr.got.Options.MaxResults != 5 {
		t.Errorf("dispatched task = %+v", cr.got)
	}

	var res models.CrawlResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.TaskID != "t-1" || res.Timestamp == "" {
		t.Errorf("result = %+v", res)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
}

func TestCrawlTaskFailureIs200(t *testing.T) {
	cr := &fakeCrawler{result: &models.CrawlResult{
		Success: false, Error: "UNSUPPORTED_PLATFORM: unsupported platform", Code: models.ErrCodeUnsupportedPlatform, Timestamp: models.Now(),
	}}
	r := newTestRouter(cr, nil)

	w := do(r, http.MethodPost, "/crawl", `{"type":"single_product","platform":"ebay","url":"https://ebay.com/1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a task failure", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestCrawlMalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"type":`},
		{"no target", `{"type":"single_product","platform":"jd"}`},
		{"two targets", `{"type":"batch_crawl","platform":"jd","url":"https://a","urls":["https://b"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := &fakeCrawler{}
			w := do(newTestRouter(cr, nil), http.MethodPost, "/crawl", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if cr.got != nil {
				t.Error("malformed task must not reach the engine")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	w := do(newTestRouter(&fakeCrawler{}, nil), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var h models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" || h.Port != 43210 || h.Uptime < 59 || h.Memory.Sys == 0 {
		t.Errorf("health = %+v", h)
	}
}

func TestStatusAndPlatforms(t *testing.T) {
	r := newTestRouter(&fakeCrawler{}, nil)

	w := do(r, http.MethodGet, "/status", "")
	var st models.EngineStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.IsInitialized || st.ActiveTasks != 1 || st.Browsers != 2 {
		t.Errorf("status = %+v", st)
	}

	w = do(r, http.MethodGet, "/platforms", "")
	var pr models.PlatformsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &pr); err != nil {
		t.Fatal(err)
	}
	if len(pr.Platforms) != 3 {
		t.Errorf("platforms = %v", pr.Platforms)
	}
}

func TestPreflightAndNotFound(t *testing.T) {
	r := newTestRouter(&fakeCrawler{}, nil)

	for _, path := range []string{"/crawl", "/anything/else"} {
		w := do(r, http.MethodOptions, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("OPTIONS %s = %d, want 200", path, w.Code)
		}
	}

	w := do(r, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Not Found") {
		t.Errorf("GET /nope = %d %s", w.Code, w.Body)
	}
}

func TestMetricsToggle(t *testing.T) {
	w := do(newTestRouter(&fakeCrawler{}, nil), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("metrics enabled: status = %d", w.Code)
	}
	off := newTestRouter(&fakeCrawler{}, func(c *config.Config) { c.Server.EnableMetrics = false })
	if w := do(off, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics disabled: status = %d", w.Code)
	}
}

func TestCrawlRateLimit(t *testing.T) {
	r := newTestRouter(&fakeCrawler{}, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	})
	body := `{"type":"product","platform":"jd","url":"https://item.jd.com/1.html"}`

	if w := do(r, http.MethodPost, "/crawl", body); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/crawl", body)
	if w.Code != http.StatusTooManyRequests || !strings.Contains(w.Body.String(), models.ErrCodeRateLimited) {
		t.Errorf("second request = %d %s", w.Code, w.Body)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After on 429")
	}
}
