// Package metrics keeps in-process latency windows and connection pool
// statistics for the readiness endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Window keeps the most recent latency samples in a ring.
type Window struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1000
	}
	return &Window{samples: make([]time.Duration, size)}
}

func (w *Window) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.count++
}

// LatencyStats summarizes a window. Count is the lifetime total; the
// percentiles cover Samples recent values.
type LatencyStats struct {
	Count   int64         `json:"count"`
	Samples int           `json:"samples"`
	Max     time.Duration `json:"max"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

func (w *Window) Stats() LatencyStats {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	count := w.count
	w.mu.Unlock()

	if n == 0 {
		return LatencyStats{Count: count}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(p float64) time.Duration { return sorted[int(float64(n-1)*p)] }
	return LatencyStats{
		Count:   count,
		Samples: n,
		Max:     sorted[n-1],
		P50:     at(0.50),
		P95:     at(0.95),
		P99:     at(0.99),
	}
}

// ToMap renders durations in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":   s.Count,
		"samples": s.Samples,
		"max_ms":  ms(s.Max),
		"p50_ms":  ms(s.P50),
		"p95_ms":  ms(s.P95),
		"p99_ms":  ms(s.P99),
	}
}

// Registry holds one window per operation name.
type Registry struct {
	mu      sync.RWMutex
	windows map[string]*Window
	size    int
}

func NewRegistry(size int) *Registry {
	return &Registry{windows: make(map[string]*Window), size: size}
}

func (r *Registry) Record(name string, d time.Duration) {
	r.mu.RLock()
	w, ok := r.windows[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if w, ok = r.windows[name]; !ok {
			w = NewWindow(r.size)
			r.windows[name] = w
		}
		r.mu.Unlock()
	}
	w.Record(d)
}

func (r *Registry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]LatencyStats, len(r.windows))
	for name, w := range r.windows {
		out[name] = w.Stats()
	}
	return out
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry(1000) })
	return global
}

func RecordLatency(name string, d time.Duration) { Global().Record(name, d) }

// Since records the time elapsed from start; use with defer.
func Since(name string, start time.Time) { Global().Record(name, time.Since(start)) }
