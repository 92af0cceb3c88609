package models

import "runtime"

// MemoryStats is a snapshot of the Go runtime heap.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// ReadMemory samples runtime memory statistics.
func ReadMemory() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		HeapInuse:  m.HeapInuse,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Port      int         `json:"port"`
	Uptime    float64     `json:"uptime"` // seconds
	Memory    MemoryStats `json:"memory"`
	Timestamp string      `json:"timestamp"`
}

// EngineStatus is the body of GET /status.
type EngineStatus struct {
	IsInitialized  bool        `json:"isInitialized"`
	ActiveTasks    int         `json:"activeTasks"`
	QueuedTasks    int         `json:"queuedTasks"`
	Browsers       int         `json:"browsers"`
	Contexts       int         `json:"contexts"`
	CompletedTasks int64       `json:"completedTasks"`
	FailedTasks    int64       `json:"failedTasks"`
	Uptime         float64     `json:"uptime"` // seconds
	Memory         MemoryStats `json:"memory"`
}

// PlatformsResponse is the body of GET /platforms.
type PlatformsResponse struct {
	Platforms []string `json:"platforms"`
}

// ErrorResponse is returned for malformed requests and unknown routes.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
