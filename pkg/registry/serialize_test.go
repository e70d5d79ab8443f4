package registry

import (
	"errors"
	"reflect"
	"testing"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

func populated(t *testing.T) *Registry {
	t.Helper()
	r := New(WithClock(fixedClock()))
	if err := r.AddRegulation(doc("scie"), "alice"); err != nil {
		t.Fatal(err)
	}
	if err := r.AddRules("scie", []models.DeclarativeRule{rule("scie-001", "scie")}, "bot"); err != nil {
		t.Fatal(err)
	}
	if err := r.AmendRegulation("scie", doc("scie-a1"), "alice"); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestExportImportRoundTrip(t *testing.T) {
	src := populated(t)
	snap := src.Export()

	dst := New(WithClock(fixedClock()))
	if err := dst.Import(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(src.Regulations(), dst.Regulations()) {
		t.Fatal("regulations differ after round trip")
	}
	if !reflect.DeepEqual(src.Events(), dst.Events()) {
		t.Fatal("events differ after round trip")
	}
	srcRules, _ := src.Rules("scie")
	dstRules, _ := dst.Rules("scie")
	if !reflect.DeepEqual(srcRules, dstRules) {
		t.Fatal("rules differ after round trip")
	}
	// Import records no event of its own; the next event continues the
	// original sequence.
	before := len(dst.Events())
	if err := dst.RevokeRegulation("scie-a1", "2027-01-01", "alice"); err != nil {
		t.Fatal(err)
	}
	events := dst.Events()
	if len(events) != before+1 {
		t.Fatalf("expected exactly one new event, got %d", len(events)-before)
	}
	if events[len(events)-1].Seq != snap.Seq+1 {
		t.Fatalf("expected seq to continue at %d, got %d", snap.Seq+1, events[len(events)-1].Seq)
	}
}

func TestExportIsACopy(t *testing.T) {
	r := populated(t)
	snap := r.Export()
	snap.Regulations[0].Title = "mutated"
	snap.Rules["scie"][0].ID = "mutated"
	got, _ := r.Regulation("scie")
	if got.Title == "mutated" {
		t.Fatal("export must not alias registry state")
	}
	rules, _ := r.Rules("scie")
	if rules[0].ID == "mutated" {
		t.Fatal("export must not alias registry rules")
	}
}

func TestImportValidation(t *testing.T) {
	r := New()
	if err := r.Import(Snapshot{Regulations: []models.RegulationDocument{{}}}); !errors.Is(err, ErrInvalidRegulation) {
		t.Fatalf("expected ErrInvalidRegulation for empty id, got %v", err)
	}
	d := doc("a")
	d.Status = models.StatusActive
	if err := r.Import(Snapshot{Regulations: []models.RegulationDocument{d, d}}); !errors.Is(err, ErrRegulationExists) {
		t.Fatalf("expected ErrRegulationExists for duplicate, got %v", err)
	}
	bad := doc("b")
	bad.Status = "frozen"
	if err := r.Import(Snapshot{Regulations: []models.RegulationDocument{bad}}); !errors.Is(err, ErrInvalidRegulation) {
		t.Fatalf("expected ErrInvalidRegulation for bad status, got %v", err)
	}
	if err := r.Import(Snapshot{
		Regulations: []models.RegulationDocument{d},
		Rules:       map[string][]models.DeclarativeRule{"other": {rule("x", "other")}},
	}); !errors.Is(err, ErrRegulationNotFound) {
		t.Fatalf("expected ErrRegulationNotFound for orphan rules, got %v", err)
	}
}

func TestImportFailureLeavesRegistryUntouched(t *testing.T) {
	r := populated(t)
	before := len(r.Regulations())
	bad := doc("x")
	bad.Status = "frozen"
	if err := r.Import(Snapshot{Regulations: []models.RegulationDocument{bad}}); err == nil {
		t.Fatal("expected import to fail")
	}
	if len(r.Regulations()) != before {
		t.Fatal("failed import must not modify state")
	}
}

func TestMarshalUnmarshalSnapshot(t *testing.T) {
	snap := populated(t).Export()
	raw, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := UnmarshalSnapshot(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Seq != snap.Seq || len(parsed.Regulations) != len(snap.Regulations) {
		t.Fatalf("unexpected snapshot: %+v", parsed)
	}
	if _, err := UnmarshalSnapshot([]byte("{")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
