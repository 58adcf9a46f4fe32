package ledger

import (
	"database/sql"
	"fmt"
)

// KeyAttachmentBase names the setting that points at the local attachment
// tree. A restored database was written by another machine, so this is
// rewritten after every restore and merge.
const KeyAttachmentBase = "attachment_base_folder"

// SetSetting upserts one settings row.
func SetSetting(conn *sql.DB, key, value string) error {
	if _, err := conn.Exec(
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value,
	); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting reads one settings row; ok is false when the key is absent.
func GetSetting(conn *sql.DB, key string) (string, bool, error) {
	var value string
	err := conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// EnsureAttachmentBase pins the attachment root setting to the local tree.
func EnsureAttachmentBase(conn *sql.DB, attachmentsDir string) error {
	return SetSetting(conn, KeyAttachmentBase, attachmentsDir)
}
