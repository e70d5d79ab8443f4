package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

type fakeAuditDB struct {
	execSQL  string
	execArgs []any
	execErr  error
	row      pgx.Row
}

func (f *fakeAuditDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeAuditDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.row
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func sampleEvent() models.RegistryEvent {
	return models.RegistryEvent{
		ID:           "ev-1",
		Seq:          7,
		Type:         models.EventRegulationRevoked,
		RegulationID: "dl-220",
		Timestamp:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Description:  "regulation dl-220 revoked effective 2026-03-01",
		Actor:        "alice",
		PreviousState: &models.RegulationSnapshot{
			Status:     models.StatusActive,
			RulesCount: 3,
		},
	}
}

func TestAppendWritesEvent(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db}
	if err := w.Append(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(db.execArgs) != 8 {
		t.Fatalf("expected 8 insert args, got %d", len(db.execArgs))
	}
	if db.execArgs[0] != "ev-1" || db.execArgs[4] != "alice" {
		t.Fatalf("unexpected args: %v", db.execArgs)
	}
	var snap models.RegulationSnapshot
	if err := json.Unmarshal(db.execArgs[6].([]byte), &snap); err != nil {
		t.Fatalf("expected previous state as JSON: %v", err)
	}
	if snap.RulesCount != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAppendRedactsActor(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db, Redact: true, HashSalt: []byte("salt")}
	if err := w.Append(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actor := db.execArgs[4].(string)
	if actor == "alice" || len(actor) != 64 {
		t.Fatalf("expected salted hash, got %q", actor)
	}
	// Same actor and salt hash identically; a different salt does not.
	db2 := &fakeAuditDB{}
	w2 := &Writer{DB: db2, Redact: true, HashSalt: []byte("salt")}
	_ = w2.Append(context.Background(), sampleEvent())
	if db2.execArgs[4] != actor {
		t.Fatal("expected deterministic hashing for equal salts")
	}
	db3 := &fakeAuditDB{}
	w3 := &Writer{DB: db3, Redact: true, HashSalt: []byte("other")}
	_ = w3.Append(context.Background(), sampleEvent())
	if db3.execArgs[4] == actor {
		t.Fatal("expected different hash for different salt")
	}
}

func TestAppendPropagatesDBError(t *testing.T) {
	db := &fakeAuditDB{execErr: errors.New("connection reset")}
	w := &Writer{DB: db}
	if err := w.Append(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetReadsEventBack(t *testing.T) {
	ev := sampleEvent()
	prev, _ := json.Marshal(ev.PreviousState)
	db := &fakeAuditDB{row: &fakeRow{values: []any{
		ev.ID, ev.Seq, ev.Type, ev.RegulationID, ev.Actor, ev.Description, prev, ev.Timestamp,
	}}}
	w := &Writer{DB: db}
	got, err := w.Get(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != ev.ID || got.Seq != ev.Seq || got.Type != ev.Type {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.PreviousState == nil || got.PreviousState.RulesCount != 3 {
		t.Fatalf("expected previous state restored, got %+v", got.PreviousState)
	}
}

func TestGetScanError(t *testing.T) {
	db := &fakeAuditDB{row: &fakeRow{err: pgx.ErrNoRows}}
	w := &Writer{DB: db}
	if _, err := w.Get(context.Background(), "missing"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}
