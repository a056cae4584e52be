package pool

import (
	"sync"
	"time"
)

// LoadSample is one timestamped usage observation
type LoadSample struct {
	Timestamp time.Time `json:"timestamp"`
	Load      float64   `json:"load"`
}

// UsageSeries keeps a fixed-size rolling window of usage observations and
// derives simple health indicators from it. Safe for concurrent use.
type UsageSeries struct {
	mu      sync.Mutex
	samples []LoadSample
	index   int
	filled  bool
}

// NewUsageSeries creates a series holding up to size samples
func NewUsageSeries(size int) *UsageSeries {
	if size <= 0 {
		size = 128
	}
	return &UsageSeries{
		samples: make([]LoadSample, size),
	}
}

// Record appends one observation, evicting the oldest when full
func (s *UsageSeries) Record(load float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[s.index] = LoadSample{Timestamp: time.Now(), Load: load}
	s.index = (s.index + 1) % len(s.samples)
	if s.index == 0 {
		s.filled = true
	}
}

// Average returns the mean load over the window
func (s *UsageSeries) Average() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lengthLocked()
	if n == 0 {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.samples[i].Load
	}
	return sum / float64(n)
}

// Trend returns the least-squares slope of load over the window. Positive
// values mean load is rising.
func (s *UsageSeries) Trend() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lengthLocked()
	if n < 2 {
		return 0
	}

	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		x := float64(i)
		y := s.samples[i].Load
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	np := float64(n)
	denom := np*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (np*sumXY - sumX*sumY) / denom
}

// Last returns the most recent observation, if any
func (s *UsageSeries) Last() (LoadSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filled && s.index == 0 {
		return LoadSample{}, false
	}
	i := s.index - 1
	if i < 0 {
		i = len(s.samples) - 1
	}
	return s.samples[i], true
}

// Reset clears all observations
func (s *UsageSeries) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = 0
	s.filled = false
	for i := range s.samples {
		s.samples[i] = LoadSample{}
	}
}

func (s *UsageSeries) lengthLocked() int {
	if s.filled {
		return len(s.samples)
	}
	return s.index
}
