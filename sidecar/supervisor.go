// Package sidecar supervises the crawler sidecar process from the host
// side: spawning it, reading its port handshake, monitoring its health
// and dispatching crawl tasks to it over local HTTP.
package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/models"
	"resty.dev/v3"
)

// Status is the supervisor lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

var (
	ErrAlreadyRunning  = errors.New("sidecar is already running")
	ErrAlreadyStarting = errors.New("sidecar is already starting")
	ErrFailed          = errors.New("sidecar is in error state, use Restart or Stop")
	ErrNotRunning      = errors.New("sidecar is not running")
	ErrStartupTimeout  = errors.New("sidecar did not announce its port in time")
	errExitedEarly     = errors.New("sidecar exited before announcing its port")
)

// stopGrace is how long Stop waits after an interrupt before killing.
const stopGrace = 5 * time.Second

// Info is the supervisor's view of the sidecar, merged with the live
// engine counters when the sidecar answers.
type Info struct {
	Status             Status               `json:"status"`
	Port               int                  `json:"port,omitempty"`
	PID                int                  `json:"pid,omitempty"`
	Uptime             float64              `json:"uptime"` // seconds
	ActiveTasks        int                  `json:"activeTasks"`
	CompletedTasks     int64                `json:"completedTasks"`
	FailedTasks        int64                `json:"failedTasks"`
	SupportedPlatforms []string             `json:"supportedPlatforms,omitempty"`
	Engine             *models.EngineStatus `json:"engine,omitempty"`
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithCommand overrides the sidecar executable and its arguments.
func WithCommand(name string, args ...string) Option {
	return func(s *Supervisor) {
		s.bin = name
		s.args = args
	}
}

// WithEnv appends KEY=value pairs to the sidecar's environment.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

// Supervisor owns one sidecar process at a time.
type Supervisor struct {
	cfg    config.SupervisorConfig
	bin    string
	args   []string
	env    []string
	events *Bus
	client *resty.Client

	mu         sync.Mutex
	status     Status
	cmd        *exec.Cmd
	exited     chan struct{}
	stopping   bool
	port       int
	pid        int
	startedAt  time.Time
	platforms  []string
	active     map[string]*models.CrawlTask
	completed  int64
	failed     int64
	stopHealth context.CancelFunc
}

var (
	defaultOnce       sync.Once
	defaultSupervisor *Supervisor
)

// Default returns the process-wide supervisor configured from the
// environment.
func Default() *Supervisor {
	defaultOnce.Do(func() {
		defaultSupervisor = New(config.Load().Supervisor)
	})
	return defaultSupervisor
}

// New builds an isolated supervisor. Nothing is spawned until Start.
func New(cfg config.SupervisorConfig, opts ...Option) *Supervisor {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}

	client := resty.New()
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(cfg.RequestTimeout)
	}

	s := &Supervisor{
		cfg:    cfg,
		bin:    cfg.Binary,
		events: NewBus(),
		client: client,
		status: StatusStopped,
		active: make(map[string]*models.CrawlTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers for supervisor events. See Bus.Subscribe.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.Subscribe(buffer)
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatusLocked transitions and notifies subscribers. s.mu must be held.
func (s *Supervisor) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	slog.Info("sidecar status changed", "from", s.status, "to", st)
	s.status = st
	s.events.Emit(Event{Type: EventStatusChange, Status: st})
}

func (s *Supervisor) emitError(msg string) {
	s.events.Emit(Event{Type: EventError, Message: msg})
}

// ── lifecycle ─────────────────────────────────────────────────────────

// Start spawns the sidecar and blocks until it announces its port, the
// startup timeout elapses, the process exits or ctx is done. Start only
// runs from stopped; a supervisor in error must be restarted or stopped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusStarting:
		s.mu.Unlock()
		return ErrAlreadyStarting
	case StatusRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case StatusError:
		s.mu.Unlock()
		return ErrFailed
	}

	cmd := exec.Command(s.bin, s.args...)
	cmd.Env = append(os.Environ(), s.env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("sidecar: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("sidecar: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.setStatusLocked(StatusError)
		s.mu.Unlock()
		s.emitError(err.Error())
		return fmt.Errorf("sidecar: spawn %s: %w", s.bin, err)
	}

	exited := make(chan struct{})
	s.cmd, s.exited = cmd, exited
	s.pid = cmd.Process.Pid
	s.port = 0
	s.stopping = false
	s.setStatusLocked(StatusStarting)
	s.mu.Unlock()

	slog.Info("sidecar spawned", "bin", s.bin, "pid", cmd.Process.Pid)

	portCh := make(chan int, 1)
	go s.readStdout(stdout, portCh)
	go s.readStderr(stderr)
	go s.wait(cmd, exited)

	timer := time.NewTimer(s.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case port := <-portCh:
		return s.onReady(ctx, cmd, port)
	case <-timer.C:
		s.abortStartup(cmd, ErrStartupTimeout)
		return ErrStartupTimeout
	case <-exited:
		s.abortStartup(cmd, errExitedEarly)
		return errExitedEarly
	case <-ctx.Done():
		s.abortStartup(cmd, ctx.Err())
		return ctx.Err()
	}
}

func (s *Supervisor) onReady(ctx context.Context, cmd *exec.Cmd, port int) error {
	s.mu.Lock()
	if s.cmd != cmd || s.status != StatusStarting {
		// Stopped while starting.
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.port = port
	s.startedAt = time.Now()
	healthCtx, cancel := context.WithCancel(context.Background())
	s.stopHealth = cancel
	s.setStatusLocked(StatusRunning)
	s.mu.Unlock()

	slog.Info("sidecar ready", "port", port, "pid", cmd.Process.Pid)
	go s.monitor(healthCtx, cmd)
	s.fetchPlatforms(ctx)
	return nil
}

// abortStartup kills a sidecar that failed to come up and leaves the
// supervisor in error.
func (s *Supervisor) abortStartup(cmd *exec.Cmd, cause error) {
	s.mu.Lock()
	if s.cmd != cmd || s.stopping {
		// Already reaped or being stopped; their paths own the state.
		s.mu.Unlock()
		_ = cmd.Process.Kill()
		return
	}
	s.stopping = true
	s.setStatusLocked(StatusError)
	s.mu.Unlock()

	_ = cmd.Process.Kill()
	slog.Error("sidecar startup failed", "error", cause)
	s.emitError(cause.Error())
}

// Stop terminates the sidecar. It is a no-op when already stopped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	cmd, exited := s.cmd, s.exited
	s.stopping = true
	if s.stopHealth != nil {
		s.stopHealth()
		s.stopHealth = nil
	}
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			_ = cmd.Process.Kill()
		}
		select {
		case <-exited:
		case <-time.After(stopGrace):
			slog.Warn("sidecar ignored interrupt, killing", "pid", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.port, s.pid = 0, 0
	s.active = make(map[string]*models.CrawlTask)
	s.stopping = false
	s.setStatusLocked(StatusStopped)
	s.mu.Unlock()
	return nil
}

// Restart stops the sidecar, waits the settle delay and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	select {
	case <-time.After(s.cfg.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx)
}

// wait reaps the process and flags an exit nobody asked for.
func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd {
		return
	}
	expected := s.stopping
	s.cmd = nil
	s.port, s.pid = 0, 0
	if s.stopHealth != nil {
		s.stopHealth()
		s.stopHealth = nil
	}
	if expected {
		return
	}
	msg := "sidecar exited unexpectedly"
	if err != nil {
		msg += ": " + err.Error()
	}
	slog.Error(msg)
	s.setStatusLocked(StatusError)
	s.events.Emit(Event{Type: EventError, Message: msg})
}

func (s *Supervisor) readStdout(r io.Reader, portCh chan<- int) {
	announced := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if port, ok := ParsePortLine(line); ok && !announced {
			announced = true
			portCh <- port
			continue
		}
		slog.Debug("sidecar stdout", "line", line)
	}
}

// readStderr relays sidecar logs. Routine log records are logged at debug;
// anything else is surfaced as an error event.
func (s *Supervisor) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isRoutineLog(line) {
			slog.Debug("sidecar log", "line", line)
			continue
		}
		slog.Warn("sidecar stderr", "line", line)
		s.emitError(line)
	}
}

// isRoutineLog reports whether line is a slog record below WARN.
func isRoutineLog(line string) bool {
	var rec struct {
		Level string `json:"level"`
	}
	if json.Unmarshal([]byte(line), &rec) == nil && rec.Level != "" {
		return rec.Level == "DEBUG" || rec.Level == "INFO"
	}
	return strings.Contains(line, "level=INFO") || strings.Contains(line, "level=DEBUG")
}

// ── dispatch ──────────────────────────────────────────────────────────

func (s *Supervisor) baseURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning || s.port == 0 {
		return "", false
	}
	return fmt.Sprintf("http://127.0.0.1:%d", s.port), true
}

// Crawl dispatches task to the sidecar. It fails with ErrNotRunning,
// without any network call, unless the sidecar is running. Once
// dispatched, transport failures and non-2xx replies are reported in the
// returned result, never as an error.
func (s *Supervisor) Crawl(ctx context.Context, task *models.CrawlTask) (*models.CrawlResult, error) {
	base, ok := s.baseURL()
	if !ok {
		return nil, ErrNotRunning
	}
	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("sidecar: task id: %w", err)
		}
		task.ID = id.String()
	}

	s.mu.Lock()
	s.active[task.ID] = task
	s.mu.Unlock()
	s.events.Emit(Event{Type: EventTaskStarted, TaskID: task.ID, Task: task})

	res := s.dispatch(ctx, base, task)

	s.mu.Lock()
	delete(s.active, task.ID)
	if res.Success {
		s.completed++
	} else {
		s.failed++
	}
	s.mu.Unlock()
	s.events.Emit(Event{Type: EventTaskCompleted, TaskID: task.ID, Result: res})
	return res, nil
}

func (s *Supervisor) dispatch(ctx context.Context, base string, task *models.CrawlTask) *models.CrawlResult {
	var res models.CrawlResult
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(task).
		SetResult(&res).
		Post(base + "/crawl")
	if err != nil {
		return models.FailedResult(task.ID,
			models.NewCrawlError(models.ErrCodeSidecarTransport, "request to sidecar failed", err))
	}
	if resp.IsError() {
		return models.FailedResult(task.ID, models.NewCrawlError(models.ErrCodeSidecarTransport,
			fmt.Sprintf("sidecar answered %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())), nil))
	}
	if res.TaskID == "" {
		res.TaskID = task.ID
	}
	if res.Timestamp == "" {
		res.Timestamp = models.Now()
	}
	return &res
}

// ── status ────────────────────────────────────────────────────────────

// GetStatus returns local bookkeeping merged with the sidecar's engine
// counters. A failed live fetch leaves Engine nil.
func (s *Supervisor) GetStatus(ctx context.Context) Info {
	s.mu.Lock()
	info := Info{
		Status:             s.status,
		Port:               s.port,
		PID:                s.pid,
		ActiveTasks:        len(s.active),
		CompletedTasks:     s.completed,
		FailedTasks:        s.failed,
		SupportedPlatforms: append([]string(nil), s.platforms...),
	}
	if s.status == StatusRunning {
		info.Uptime = time.Since(s.startedAt).Seconds()
	}
	s.mu.Unlock()

	base, ok := s.baseURL()
	if !ok {
		return info
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	var st models.EngineStatus
	resp, err := s.client.R().SetContext(ctx).SetResult(&st).Get(base + "/status")
	if err != nil || resp.IsError() {
		slog.Debug("sidecar status fetch failed", "error", err)
		return info
	}
	info.Engine = &st
	return info
}

// HealthCheck performs one bounded GET /health.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	base, ok := s.baseURL()
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	resp, err := s.client.R().SetContext(ctx).Get(base + "/health")
	return err == nil && resp.StatusCode() == 200
}

func (s *Supervisor) fetchPlatforms(ctx context.Context) {
	base, ok := s.baseURL()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	var pr models.PlatformsResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&pr).Get(base + "/platforms")
	if err != nil || resp.IsError() {
		slog.Warn("failed to fetch supported platforms", "error", err)
		return
	}
	s.mu.Lock()
	s.platforms = pr.Platforms
	s.mu.Unlock()
}

// Close stops the sidecar and releases the HTTP client.
func (s *Supervisor) Close() error {
	err := s.Stop()
	return errors.Join(err, s.client.Close())
}
