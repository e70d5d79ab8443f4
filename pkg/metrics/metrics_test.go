package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

func TestObserveAggregatesPerEndpoint(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/evaluate", 200, 20*time.Millisecond)
	r.Observe("POST /v1/evaluate", 500, 40*time.Millisecond)
	r.Observe("GET /v1/coverage", 200, 5*time.Millisecond)

	snap := r.Snapshot()
	stat := snap.Endpoints["POST /v1/evaluate"]
	if stat.Count != 2 || stat.ErrorCount != 1 {
		t.Fatalf("unexpected stat: %+v", stat)
	}
	if stat.MaxMillis != 40 || stat.AverageMillis != 30 {
		t.Fatalf("unexpected latency stats: %+v", stat)
	}
	if stat.LastStatusCode != 500 {
		t.Fatalf("expected last status 500, got %d", stat.LastStatusCode)
	}
	if snap.Endpoints["GET /v1/coverage"].Count != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap.Endpoints)
	}
}

func TestObserveReportCountsOutcomesAndSeverities(t *testing.T) {
	r := NewRegistry()
	report := models.EvaluationReport{
		Findings: []models.Finding{
			{Severity: models.SeverityCritical},
			{Severity: models.SeverityCritical},
			{Severity: models.SeverityWarning},
		},
		Results: []models.RuleResult{
			{Outcome: models.OutcomeFired},
			{Outcome: models.OutcomeFired},
			{Outcome: models.OutcomeFired},
			{Outcome: models.OutcomeNotFired},
			{Outcome: models.OutcomeSkipped},
		},
	}
	r.ObserveReport(report, 15*time.Millisecond)
	snap := r.Snapshot()
	if snap.Severities["critical"] != 2 || snap.Severities["warning"] != 1 {
		t.Fatalf("unexpected severities: %v", snap.Severities)
	}
	if snap.RuleOutcomes["fired"] != 3 || snap.RuleOutcomes["skipped"] != 1 {
		t.Fatalf("unexpected outcomes: %v", snap.RuleOutcomes)
	}
	if snap.EvalLatencyMS.Count != 1 || snap.EvalLatencyMS.LastMS != 15 {
		t.Fatalf("unexpected latency: %+v", snap.EvalLatencyMS)
	}
}

func TestSetGauge(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("catalog_version", 4)
	r.SetGauge("", 9)
	snap := r.Snapshot()
	if snap.Gauges["catalog_version"] != 4 {
		t.Fatalf("unexpected gauges: %v", snap.Gauges)
	}
	if len(snap.Gauges) != 1 {
		t.Fatal("empty gauge name must be ignored")
	}
}

func TestHandlerServesSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("GET /healthz", 200, time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.Handler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("expected JSON snapshot: %v", err)
	}
	if snap.Endpoints["GET /healthz"].Count != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.GeneratedAt == "" {
		t.Fatal("expected generated_at set")
	}
}
