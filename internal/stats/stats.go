package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TotalName labels the aggregate row.
const TotalName = "Aggregated"

// Entry holds counters for one request name, e.g. "GET /login.html".
type Entry struct {
	Method string
	Path   string

	Requests uint64
	Fail     uint64
	Bytes    uint64

	// Response time histogram (microseconds)
	ResponseTime *SafeHistogram
}

func newEntry(method, path string) *Entry {
	return &Entry{Method: method, Path: path, ResponseTime: NewSafeHistogram()}
}

func (e *Entry) Name() string {
	if e.Method == "" {
		return e.Path
	}
	return e.Method + " " + e.Path
}

func (e *Entry) add(success bool, bytes int64, rt time.Duration) {
	atomic.AddUint64(&e.Requests, 1)
	if !success {
		atomic.AddUint64(&e.Fail, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&e.Bytes, uint64(bytes))
	}
	e.ResponseTime.Record(rt)
}

func (e *Entry) Summary() EntrySummary {
	return EntrySummary{
		Name:     e.Name(),
		Requests: atomic.LoadUint64(&e.Requests),
		Fail:     atomic.LoadUint64(&e.Fail),
		Bytes:    atomic.LoadUint64(&e.Bytes),
		AvgMs:    e.ResponseTime.MeanMs(),
		MinMs:    e.ResponseTime.MinMs(),
		MaxMs:    e.ResponseTime.MaxMs(),
		P50Ms:    e.ResponseTime.QuantileMs(50),
		P90Ms:    e.ResponseTime.QuantileMs(90),
		P95Ms:    e.ResponseTime.QuantileMs(95),
		P99Ms:    e.ResponseTime.QuantileMs(99),
	}
}

// EntrySummary is a point-in-time copy of an Entry, safe to serialize.
type EntrySummary struct {
	Name     string  `json:"name"`
	Requests uint64  `json:"requests"`
	Fail     uint64  `json:"fail"`
	Bytes    uint64  `json:"bytes"`
	AvgMs    float64 `json:"avg_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P90Ms    float64 `json:"p90_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// Stats holds real-time aggregated metrics per request name
type Stats struct {
	mu      sync.RWMutex
	total   *Entry
	entries map[string]*Entry
	errors  map[string]uint64
}

func NewStats() *Stats {
	return &Stats{
		total:   newEntry("", TotalName),
		entries: make(map[string]*Entry),
		errors:  make(map[string]uint64),
	}
}

// Add records one completed request. errMsg is ignored for successes.
func (s *Stats) Add(method, path string, success bool, bytes int64, rt time.Duration, errMsg string) {
	key := method + " " + path

	s.mu.RLock()
	e, ok := s.entries[key]
	total := s.total
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if e, ok = s.entries[key]; !ok {
			e = newEntry(method, path)
			s.entries[key] = e
		}
		total = s.total
		s.mu.Unlock()
	}

	e.add(success, bytes, rt)
	total.add(success, bytes, rt)

	if !success {
		s.mu.Lock()
		s.errors[key+": "+errMsg]++
		s.mu.Unlock()
	}
}

func (s *Stats) Total() *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Entries returns per-name entries sorted by name.
func (s *Stats) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Stats) Entry(method, path string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[method+" "+path]
	return e, ok
}

func (s *Stats) ErrorCounts() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

func (s *Stats) ErrorRate() float64 {
	total := s.Total()
	reqs := atomic.LoadUint64(&total.Requests)
	if reqs == 0 {
		return 0
	}
	fails := atomic.LoadUint64(&total.Fail)
	return (float64(fails) / float64(reqs)) * 100
}
