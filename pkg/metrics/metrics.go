// Package metrics keeps in-process counters for the gateway: endpoint
// latency, finding severities, rule outcomes and registry gauges, all
// exposed as one JSON snapshot.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/arkritico/wallnut-sub005/pkg/httpx"
	"github.com/arkritico/wallnut-sub005/pkg/models"
)

type Registry struct {
	mu          sync.RWMutex
	endpoint    map[string]*EndpointStat
	severity    map[string]int64
	outcome     map[string]int64
	gauges      map[string]float64
	evalLatency EvalLatencyStat
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type EvalLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt   string                  `json:"generated_at"`
	Endpoints     map[string]EndpointStat `json:"endpoints"`
	Severities    map[string]int64        `json:"finding_severities"`
	RuleOutcomes  map[string]int64        `json:"rule_outcomes"`
	Gauges        map[string]float64      `json:"gauges"`
	EvalLatencyMS EvalLatencyStat         `json:"evaluation_latency_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint: map[string]*EndpointStat{},
		severity: map[string]int64{},
		outcome:  map[string]int64{},
		gauges:   map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// ObserveReport records the outcome mix and severities of one
// evaluation pass.
func (r *Registry) ObserveReport(report models.EvaluationReport, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range report.Findings {
		r.severity[string(f.Severity)]++
	}
	for _, res := range report.Results {
		r.outcome[string(res.Outcome)]++
	}
	r.evalLatency.Count++
	r.evalLatency.TotalMS += ms
	r.evalLatency.LastMS = ms
	if ms > r.evalLatency.MaxMS {
		r.evalLatency.MaxMS = ms
	}
	r.evalLatency.AvgMS = float64(r.evalLatency.TotalMS) / float64(r.evalLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		Severities:    make(map[string]int64, len(r.severity)),
		RuleOutcomes:  make(map[string]int64, len(r.outcome)),
		Gauges:        make(map[string]float64, len(r.gauges)),
		EvalLatencyMS: r.evalLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.severity {
		out.Severities[k] = v
	}
	for k, v := range r.outcome {
		out.RuleOutcomes[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

// Handler serves the JSON snapshot.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Snapshot())
	}
}
