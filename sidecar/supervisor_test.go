package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
)

const fakeModeEnv = "SHOPCRAWL_FAKE_SIDECAR"

// TestMain lets the test binary double as a fake sidecar when re-executed
// with fakeModeEnv set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeModeEnv); mode != "" {
		os.Exit(runFakeSidecar(mode))
	}
	os.Exit(m.Run())
}

func runFakeSidecar(mode string) int {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	switch mode {
	case "exit":
		fmt.Fprintln(os.Stderr, "fatal: cannot launch browser")
		return 3
	case "silent":
		<-sig
		return 0
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 1
	}
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if mode == "unhealthy" {
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "sick"})
			return
		}
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.EngineStatus{IsInitialized: true, Browsers: 1})
	})
	mux.HandleFunc("/platforms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.PlatformsResponse{Platforms: []string{"amazon", "jd", "taobao"}})
	})
	mux.HandleFunc("/crawl", func(w http.ResponseWriter, r *http.Request) {
		var task models.CrawlTask
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, models.CrawlResult{
			TaskID:    task.ID,
			Success:   true,
			Data:      models.Product{Platform: task.Platform, URL: task.URL, Title: "Fake"},
			Timestamp: models.Now(),
		})
	})
	go func() { _ = http.Serve(ln, mux) }()

	fmt.Fprintln(os.Stderr, `{"level":"INFO","msg":"control server listening"}`)
	fmt.Println("warming up")
	fmt.Println(FormatPortLine(ln.Addr().(*net.TCPAddr).Port))
	<-sig
	return 0
}

func fakeSupervisor(t *testing.T, mode string, mutate func(*config.SupervisorConfig)) *Supervisor {
	t.Helper()
	cfg := config.SupervisorConfig{
		StartupTimeout:   10 * time.Second,
		HealthInterval:   time.Hour,
		HealthTimeout:    2 * time.Second,
		FailureThreshold: 2,
		RestartDelay:     10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	s := New(cfg, WithCommand(exe, "-test.run=^$"), WithEnv(fakeModeEnv+"="+mode))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, ch <-chan Event, want EventType, within time.Duration) Event {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", want, within)
		}
	}
}

func TestLifecycle(t *testing.T) {
	s := fakeSupervisor(t, "ok", nil)
	events, unsubscribe := s.Subscribe(0)
	defer unsubscribe()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != StatusRunning {
		t.Fatalf("status = %s", s.Status())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start while running = %v, want ErrAlreadyRunning", err)
	}
	if !s.HealthCheck(context.Background()) {
		t.Error("HealthCheck = false on a healthy sidecar")
	}

	task := &models.CrawlTask{Type: models.TaskSingleProduct, Platform: "jd", URL: "https://item.jd.com/1.html"}
	res, err := s.Crawl(context.Background(), task)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if !res.Success || task.ID == "" || res.TaskID != task.ID {
		t.Errorf("result = %+v, task id %q", res, task.ID)
	}
	var p models.Product
	if err := res.DecodeData(&p); err != nil || p.Title != "Fake" {
		t.Errorf("data = %+v, err = %v", p, err)
	}
	waitFor(t, events, EventTaskCompleted, time.Second)

	info := s.GetStatus(context.Background())
	if info.Status != StatusRunning || info.Port == 0 || info.PID == 0 {
		t.Errorf("info = %+v", info)
	}
	if info.CompletedTasks != 1 || info.ActiveTasks != 0 {
		t.Errorf("counters = %+v", info)
	}
	if info.Engine == nil || !info.Engine.IsInitialized || info.Engine.Browsers != 1 {
		t.Errorf("engine status not merged: %+v", info.Engine)
	}
	if len(info.SupportedPlatforms) != 3 {
		t.Errorf("platforms = %v", info.SupportedPlatforms)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("status after stop = %s", s.Status())
	}
	if _, err := s.Crawl(context.Background(), task); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Crawl after stop = %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestStartWhileStarting(t *testing.T) {
	s := fakeSupervisor(t, "silent", nil)

	first := make(chan error, 1)
	go func() { first <- s.Start(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Status() != StatusStarting {
		if time.Now().After(deadline) {
			t.Fatal("never reached starting")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarting) {
		t.Errorf("second Start = %v, want ErrAlreadyStarting", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := <-first; err == nil {
		t.Error("first Start should fail once stopped")
	}
	if s.Status() != StatusStopped {
		t.Errorf("status = %s", s.Status())
	}
}

func TestStartupTimeout(t *testing.T) {
	s := fakeSupervisor(t, "silent", func(c *config.SupervisorConfig) {
		c.StartupTimeout = 200 * time.Millisecond
	})
	if err := s.Start(context.Background()); !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("Start = %v, want ErrStartupTimeout", err)
	}
	if s.Status() != StatusError {
		t.Errorf("status = %s, want error", s.Status())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrFailed) {
		t.Errorf("Start from error = %v, want ErrFailed", err)
	}
	if err := s.Stop(); err != nil || s.Status() != StatusStopped {
		t.Errorf("Stop from error: %v, status %s", err, s.Status())
	}
}

func TestSidecarExitsBeforeHandshake(t *testing.T) {
	s := fakeSupervisor(t, "exit", nil)
	events, unsubscribe := s.Subscribe(0)
	defer unsubscribe()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected a startup error")
	}
	if s.Status() != StatusError {
		t.Errorf("status = %s", s.Status())
	}
	waitFor(t, events, EventError, 2*time.Second)
}

func TestUnexpectedExitWhileRunning(t *testing.T) {
	s := fakeSupervisor(t, "ok", nil)
	events, unsubscribe := s.Subscribe(0)
	defer unsubscribe()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	proc := s.cmd.Process
	s.mu.Unlock()
	_ = proc.Kill()

	waitFor(t, events, EventError, 5*time.Second)
	if s.Status() != StatusError {
		t.Errorf("status = %s, want error", s.Status())
	}
}

func TestHealthFailuresFlipToError(t *testing.T) {
	s := fakeSupervisor(t, "unhealthy", func(c *config.SupervisorConfig) {
		c.HealthInterval = 20 * time.Millisecond
	})
	events, unsubscribe := s.Subscribe(0)
	defer unsubscribe()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, EventHealthCheckFailed, 5*time.Second)
	if s.Status() != StatusError {
		t.Errorf("status = %s, want error", s.Status())
	}
	before := s.GetStatus(context.Background()).PID

	// error is left only via stop or restart.
	if err := s.Start(context.Background()); !errors.Is(err, ErrFailed) {
		t.Fatalf("Start from error = %v, want ErrFailed", err)
	}
	if pid := s.GetStatus(context.Background()).PID; pid != before {
		t.Fatalf("Start from error replaced the process: pid %d -> %d", before, pid)
	}
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if after := s.GetStatus(context.Background()).PID; after == 0 || after == before {
		t.Errorf("restart did not spawn a new process: pid %d -> %d", before, after)
	}
}

// runningAgainst points a supervisor at an arbitrary server without a
// process, for dispatch tests.
func runningAgainst(t *testing.T, srvURL string) *Supervisor {
	t.Helper()
	u, err := url.Parse(srvURL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	s := New(config.SupervisorConfig{HealthTimeout: time.Second})
	s.status = StatusRunning
	s.port = port
	return s
}

func TestCrawlCapturesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := runningAgainst(t, srv.URL)
	res, err := s.Crawl(context.Background(), &models.CrawlTask{ID: "t-9", Type: models.TaskSingleProduct, Platform: "jd", URL: "https://x"})
	if err != nil {
		t.Fatalf("Crawl must not error once dispatched: %v", err)
	}
	if res.Success || res.TaskID != "t-9" || res.Code != models.ErrCodeSidecarTransport || res.Timestamp == "" {
		t.Errorf("result = %+v", res)
	}

	srv.Close()
	res, err = s.Crawl(context.Background(), &models.CrawlTask{ID: "t-10", Type: models.TaskSingleProduct, Platform: "jd", URL: "https://x"})
	if err != nil || res.Success || res.TaskID != "t-10" {
		t.Errorf("unreachable sidecar: res = %+v err = %v", res, err)
	}
	if info := s.GetStatus(context.Background()); info.FailedTasks != 2 || info.Engine != nil {
		t.Errorf("info = %+v", info)
	}
}

func TestParsePortLine(t *testing.T) {
	tests := []struct {
		line string
		port int
		ok   bool
	}{
		{"SIDECAR_PORT:41234", 41234, true},
		{"  SIDECAR_PORT:8080\r", 8080, true},
		{FormatPortLine(3000), 3000, true},
		{"SIDECAR_PORT:", 0, false},
		{"SIDECAR_PORT:0", 0, false},
		{"SIDECAR_PORT:70000", 0, false},
		{"PORT:8080", 0, false},
		{"listening on 8080", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			port, ok := ParsePortLine(tt.line)
			if port != tt.port || ok != tt.ok {
				t.Errorf("ParsePortLine(%q) = %d, %v; want %d, %v", tt.line, port, ok, tt.port, tt.ok)
			}
		})
	}
}

func TestIsRoutineLog(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{`{"time":"x","level":"INFO","msg":"ok"}`, true},
		{`{"level":"ERROR","msg":"bad"}`, false},
		{`time=x level=DEBUG msg=ok`, true},
		{`time=x level=WARN msg=slow`, false},
		{`panic: runtime error`, false},
	}
	for _, tt := range tests {
		if got := isRoutineLog(tt.line); got != tt.want {
			t.Errorf("isRoutineLog(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	b := NewBus()
	ch1, un1 := b.Subscribe(1)
	ch2, un2 := b.Subscribe(1)
	defer un2()

	b.Emit(Event{Type: EventTaskStarted, TaskID: "a"})
	if evt := <-ch1; evt.TaskID != "a" || evt.Time.IsZero() {
		t.Errorf("ch1 got %+v", evt)
	}
	if evt := <-ch2; evt.TaskID != "a" {
		t.Errorf("ch2 got %+v", evt)
	}

	un1()
	un1()
	if _, ok := <-ch1; ok {
		t.Error("ch1 should be closed after unsubscribe")
	}

	// ch2 has room for one; the second event is dropped, not blocking.
	b.Emit(Event{Type: EventError})
	b.Emit(Event{Type: EventError})
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}
