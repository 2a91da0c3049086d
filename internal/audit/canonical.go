package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

// canonicalRecord fixes the field order of the hashed form. Every field of
// AuditRecord except Hash is covered.
type canonicalRecord struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	MeetingID  string          `json:"meetingId"`
	SchoolID   string          `json:"schoolId"`
	TS         int64           `json:"ts"`
	ActorID    string          `json:"actorId"`
	ActorName  string          `json:"actorName"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   *string         `json:"prevHash"`
}

// CanonicalPayload re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Postgres JSONB reorders keys on storage, so the
// hash has to be taken over a form that survives that round trip.
func CanonicalPayload(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	// encoding/json sorts map keys
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

// Canonical returns the byte string a record's hash is computed over.
func Canonical(rec models.AuditRecord) ([]byte, error) {
	payload, err := CanonicalPayload(rec.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canonicalRecord{
		ID:         rec.ID,
		Seq:        rec.Seq,
		MeetingID:  rec.MeetingID,
		SchoolID:   rec.SchoolID,
		TS:         rec.TS,
		ActorID:    rec.ActorID,
		ActorName:  rec.ActorName,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Payload:    payload,
		PrevHash:   rec.PrevHash,
	})
}

// Digest is hex(sha256(Canonical(rec))).
func Digest(rec models.AuditRecord) (string, error) {
	body, err := Canonical(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
