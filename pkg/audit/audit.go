// Package audit persists registry events through a Postgres sink. The
// registry's in-memory log stays authoritative; this writer is the
// boundary adapter to the external persistence layer.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer appends registry events to the registry_events table. With
// Redact set, actor identities are salted hashes instead of raw names.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

func (w *Writer) Append(ctx context.Context, ev models.RegistryEvent) error {
	actor := ev.Actor
	if w.Redact {
		actor = hashString(actor, w.HashSalt)
	}
	var prev []byte
	if ev.PreviousState != nil {
		prev, _ = json.Marshal(ev.PreviousState)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO registry_events
		(event_id, seq, event_type, regulation_id, actor, description, previous_state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ev.ID, ev.Seq, ev.Type, ev.RegulationID, actor, ev.Description, prev, ev.Timestamp)
	return err
}

// Get reads one persisted event back by id.
func (w *Writer) Get(ctx context.Context, eventID string) (models.RegistryEvent, error) {
	var ev models.RegistryEvent
	var prev []byte
	row := w.DB.QueryRow(ctx, `
		SELECT event_id, seq, event_type, regulation_id, actor, description, previous_state, created_at
		FROM registry_events WHERE event_id=$1
	`, eventID)
	if err := row.Scan(&ev.ID, &ev.Seq, &ev.Type, &ev.RegulationID, &ev.Actor, &ev.Description, &prev, &ev.Timestamp); err != nil {
		return ev, err
	}
	if len(prev) > 0 {
		var snap models.RegulationSnapshot
		if err := json.Unmarshal(prev, &snap); err == nil {
			ev.PreviousState = &snap
		}
	}
	return ev, nil
}

func hashString(v string, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil))
}
