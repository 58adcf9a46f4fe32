package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"tillbook-sync-server/internal/attachments"
)

// FixAttachmentPaths repairs transaction attachment references after a
// restore: paths written on the donor machine are remapped into the local
// tree. Paths that already resolve locally are left alone, and a path with
// no local counterpart stays untouched rather than being cleared.
func FixAttachmentPaths(conn *sql.DB, attachmentsDir string) error {
	index := attachments.NameIndex(attachmentsDir)

	rows, err := conn.Query(
		"SELECT public_id, attachment_path FROM transactions WHERE attachment_path IS NOT NULL",
	)
	if err != nil {
		return fmt.Errorf("list attachment paths: %w", err)
	}
	defer rows.Close()

	type fix struct {
		publicID string
		path     string
	}
	var fixes []fix
	for rows.Next() {
		var publicID, path string
		if err := rows.Scan(&publicID, &path); err != nil {
			return fmt.Errorf("scan attachment path: %w", err)
		}
		if strings.HasPrefix(path, attachmentsDir) {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		if mapped, ok := attachments.MapPath(path, attachmentsDir, index); ok {
			fixes = append(fixes, fix{publicID: publicID, path: mapped})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range fixes {
		if _, err := conn.Exec(
			"UPDATE transactions SET attachment_path = ? WHERE public_id = ?", f.path, f.publicID,
		); err != nil {
			return fmt.Errorf("update attachment path for %s: %w", f.publicID, err)
		}
	}
	return nil
}
