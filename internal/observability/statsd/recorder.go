package statsd

import (
	"strings"
	"sync"
	"time"
)

// Recorder is an in-memory Sink. It keeps counter totals and the last gauge and
// timing values per metric and tag set. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	timings map[string]time.Duration
}

var _ Sink = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counts:  map[string]int64{},
		gauges:  map[string]float64{},
		timings: map[string]time.Duration{},
	}
}

func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[recordKey(name, tags)] += value
}

func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[recordKey(name, tags)] = value
}

func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[recordKey(name, tags)] = value
}

// CountOf returns the counter total for name with exactly tags.
func (r *Recorder) CountOf(name string, tags map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[recordKey(name, tags)]
}

// GaugeOf returns the last gauge value for name with exactly tags.
func (r *Recorder) GaugeOf(name string, tags map[string]string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.gauges[recordKey(name, tags)]
	return v, ok
}

// TotalCount sums a counter across every tag set.
func (r *Recorder) TotalCount(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for k, v := range r.counts {
		if k == name || strings.HasPrefix(k, name+"|") {
			total += v
		}
	}
	return total
}

func recordKey(name string, tags map[string]string) string {
	return name + formatTags(nil, tags)
}
