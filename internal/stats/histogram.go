package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const maxTrackable = int64(10 * time.Minute / time.Microsecond)

// SafeHistogram is a thread-safe wrapper around hdrhistogram recording
// durations at microsecond resolution.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, maxTrackable, 3)
	return &SafeHistogram{hist: h}
}

// Record adds one duration. Values outside the trackable range are clamped.
func (h *SafeHistogram) Record(d time.Duration) {
	v := d.Microseconds()
	if v < 1 {
		v = 1
	}
	if v > maxTrackable {
		v = maxTrackable
	}
	h.mu.Lock()
	h.hist.RecordValue(v)
	h.mu.Unlock()
}

// Quantile returns the duration at percentile q (0-100).
func (h *SafeHistogram) Quantile(q float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (h *SafeHistogram) Reset() {
	h.mu.Lock()
	h.hist.Reset()
	h.mu.Unlock()
}

func (h *SafeHistogram) Max() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.hist.Max()) * time.Microsecond
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Summary snapshots the distribution.
func (h *SafeHistogram) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hist.TotalCount() == 0 {
		return Summary{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Summary{
		Count: h.hist.TotalCount(),
		Mean:  time.Duration(h.hist.Mean() * float64(time.Microsecond)),
		P50:   us(h.hist.ValueAtQuantile(50)),
		P90:   us(h.hist.ValueAtQuantile(90)),
		P99:   us(h.hist.ValueAtQuantile(99)),
		Max:   us(h.hist.Max()),
	}
}

// Summary is a point-in-time latency distribution.
type Summary struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}
