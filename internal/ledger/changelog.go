package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

// ChangeEntry is one committed mutation in the append-only change log.
type ChangeEntry struct {
	Actor       *string
	Action      string
	EntityType  string
	EntityID    *string
	RefID       *string
	PayloadJSON string
	Details     *string
}

// AppendChange writes one change-log row stamped with the current time.
// Every committed mutation appends exactly one entry, which is what makes
// MAX(ts) usable as the logical clock.
func AppendChange(conn *sql.DB, entry ChangeEntry) error {
	payload := entry.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := conn.Exec(
		`INSERT INTO change_log (ts, actor, action, entity_type, entity_id, ref_id, payload_json, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.RefID, payload, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}
