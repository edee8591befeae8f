package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the recent latency of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	MinMS       float64 `json:"min_ms"`
	MaxMS       float64 `json:"max_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// IndicatorCount is a named event tally kept alongside the latency window,
// used for quality signals that are not durations (barge-ins, drops).
type IndicatorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PerfReport is the point-in-time view served at /v1/perf/latency.
type PerfReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []IndicatorCount `json:"indicators,omitempty"`
}

// perfWindow keeps the last windowSize duration samples per stage. It trades
// exactness for a fixed memory bound; prometheus histograms remain the
// source of truth for long-horizon data.
type perfWindow struct {
	mu         sync.RWMutex
	windowSize int
	samples    map[string][]float64
	last       map[string]float64
	indicators map[string]int
}

func newPerfWindow(windowSize int) *perfWindow {
	if windowSize <= 0 {
		windowSize = 256
	}
	return &perfWindow{
		windowSize: windowSize,
		samples:    make(map[string][]float64),
		last:       make(map[string]float64),
		indicators: make(map[string]int),
	}
}

func (w *perfWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.windowSize {
		s = s[len(s)-w.windowSize:]
	}
	w.samples[stage] = s
	w.last[stage] = ms
}

func (w *perfWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *perfWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string][]float64)
	w.last = make(map[string]float64)
	w.indicators = make(map[string]int)
}

func (w *perfWindow) Snapshot() PerfReport {
	w.mu.RLock()
	defer w.mu.RUnlock()

	report := PerfReport{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.windowSize,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}

	stages := make([]string, 0, len(w.samples))
	for stage := range w.samples {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	for _, stage := range stages {
		raw := w.samples[stage]
		if len(raw) == 0 {
			continue
		}
		sorted := make([]float64, len(raw))
		copy(sorted, raw)
		sort.Float64s(sorted)

		var sum float64
		for _, v := range sorted {
			sum += v
		}

		report.Stages = append(report.Stages, StageStats{
			Stage:       stage,
			Samples:     len(sorted),
			LastMS:      roundMS(w.last[stage]),
			MinMS:       roundMS(sorted[0]),
			MaxMS:       roundMS(sorted[len(sorted)-1]),
			AvgMS:       roundMS(sum / float64(len(sorted))),
			P50MS:       roundMS(nearestRank(sorted, 0.50)),
			P95MS:       roundMS(nearestRank(sorted, 0.95)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}

	names := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Indicators = append(report.Indicators, IndicatorCount{
			Name:  name,
			Count: w.indicators[name],
		})
	}
	return report
}

// nearestRank picks the q-quantile by rank from an ascending sample set.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}

// stageTargetP95MS is the latency budget a stage is expected to stay under
// at p95, shown next to the measurement for at-a-glance regressions.
func stageTargetP95MS(stage string) float64 {
	switch stage {
	case "transcribe":
		return 900
	case "generate":
		return 2500
	case "synthesize":
		return 700
	case "play":
		return 4000
	case "turn_total":
		return 8000
	default:
		return 0
	}
}
