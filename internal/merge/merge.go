// Package merge reconciles a peer's ledger snapshot into the local one.
// Categories merge by name, transactions by public id with whole-record
// last-write-wins, month closings stay closed once closed, and attachment
// files are copied in without ever overwriting local ones.
package merge

import (
	"database/sql"
	"fmt"

	"tillbook-sync-server/internal/attachments"
)

// Engine applies a remote snapshot. The newer comparator decides strict
// timestamp ordering and is injected so the engine shares the sync
// subsystem's single notion of "after".
type Engine struct {
	attachmentsDir string
	newer          func(a, b string) bool
}

func NewEngine(attachmentsDir string, newer func(a, b string) bool) *Engine {
	return &Engine{
		attachmentsDir: attachmentsDir,
		newer:          newer,
	}
}

// Apply merges the remote dataset into the local connection. The remote
// connection is only ever read. remoteAttachments points at the peer's
// unpacked attachment tree and may be absent.
func (e *Engine) Apply(local, remote *sql.DB, remoteAttachments string) error {
	if err := attachments.CopyTree(remoteAttachments, e.attachmentsDir); err != nil {
		return fmt.Errorf("copy remote attachments: %w", err)
	}
	if err := e.mergeCategories(local, remote); err != nil {
		return fmt.Errorf("merge categories: %w", err)
	}
	if err := e.mergeTransactions(local, remote); err != nil {
		return fmt.Errorf("merge transactions: %w", err)
	}
	if err := e.mergeMonthClosing(local, remote); err != nil {
		return fmt.Errorf("merge month closings: %w", err)
	}
	return nil
}

// mergeCategories inserts remote categories whose name is unknown locally.
// Existing local categories are never touched.
func (e *Engine) mergeCategories(local, remote *sql.DB) error {
	rows, err := remote.Query("SELECT name, description, default_vat_rate, is_active FROM categories")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name        string
			description sql.NullString
			vatRate     float64
			isActive    int64
		)
		if err := rows.Scan(&name, &description, &vatRate, &isActive); err != nil {
			return err
		}

		var existing int64
		err := local.QueryRow("SELECT id FROM categories WHERE name = ?", name).Scan(&existing)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return err
		}
		if _, err := local.Exec(
			"INSERT INTO categories (name, description, default_vat_rate, is_active) VALUES (?, ?, ?, ?)",
			name, description, vatRate, isActive,
		); err != nil {
			return err
		}
	}
	return rows.Err()
}

type remoteTransaction struct {
	publicID       string
	date           string
	year           int
	month          int
	txType         string
	paymentMethod  sql.NullString
	categoryID     sql.NullInt64
	description    sql.NullString
	amount         float64
	vatRate        float64
	attachmentPath sql.NullString
	note           sql.NullString
	refPublicID    sql.NullString
	createdAt      string
	updatedAt      string
}

// mergeTransactions upserts every remote transaction by public id. Remote
// category links are resolved through the category name, since row ids
// diverge between installations; unresolvable links are dropped. Two
// devices that independently minted the same public id are merged as one
// record; that identifier-collision gap is accepted behavior.
func (e *Engine) mergeTransactions(local, remote *sql.DB) error {
	categoryIDs, err := localCategoryIDs(local)
	if err != nil {
		return err
	}
	index := attachments.NameIndex(e.attachmentsDir)

	rows, err := remote.Query(
		`SELECT public_id, date, year, month, type, payment_method, category_id, description,
		        amount, vat_rate, attachment_path, note, ref_public_id, created_at, updated_at
		 FROM transactions`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var pending []remoteTransaction
	for rows.Next() {
		var tx remoteTransaction
		if err := rows.Scan(
			&tx.publicID, &tx.date, &tx.year, &tx.month, &tx.txType, &tx.paymentMethod,
			&tx.categoryID, &tx.description, &tx.amount, &tx.vatRate, &tx.attachmentPath,
			&tx.note, &tx.refPublicID, &tx.createdAt, &tx.updatedAt,
		); err != nil {
			return err
		}
		pending = append(pending, tx)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, tx := range pending {
		mappedCategory := e.resolveCategory(remote, tx.categoryID, categoryIDs)
		mappedAttachment := e.resolveAttachment(tx.attachmentPath, index)

		var (
			localUpdatedAt  string
			localAttachment sql.NullString
		)
		err := local.QueryRow(
			"SELECT updated_at, attachment_path FROM transactions WHERE public_id = ?", tx.publicID,
		).Scan(&localUpdatedAt, &localAttachment)

		switch {
		case err == sql.ErrNoRows:
			if _, err := local.Exec(
				`INSERT INTO transactions (public_id, date, year, month, type, payment_method, category_id,
				        description, amount, vat_rate, attachment_path, note, ref_public_id, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				tx.publicID, tx.date, tx.year, tx.month, tx.txType, tx.paymentMethod, mappedCategory,
				tx.description, tx.amount, tx.vatRate, mappedAttachment, tx.note, tx.refPublicID,
				tx.createdAt, tx.updatedAt,
			); err != nil {
				return err
			}
		case err != nil:
			return err
		case e.newer(tx.updatedAt, localUpdatedAt):
			// Whole-record last-write-wins; a failed path remap keeps
			// the attachment the local row already references.
			attachment := mappedAttachment
			if !attachment.Valid {
				attachment = localAttachment
			}
			if _, err := local.Exec(
				`UPDATE transactions SET date = ?, year = ?, month = ?, type = ?, payment_method = ?,
				        category_id = ?, description = ?, amount = ?, vat_rate = ?, attachment_path = ?,
				        note = ?, ref_public_id = ?, created_at = ?, updated_at = ?
				 WHERE public_id = ?`,
				tx.date, tx.year, tx.month, tx.txType, tx.paymentMethod, mappedCategory,
				tx.description, tx.amount, tx.vatRate, attachment, tx.note, tx.refPublicID,
				tx.createdAt, tx.updatedAt, tx.publicID,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeMonthClosing inserts unknown closings and adopts remote closes.
// Closing is sticky: a month closed locally is never reopened by merge,
// and two closed months keep the later closed_at.
func (e *Engine) mergeMonthClosing(local, remote *sql.DB) error {
	rows, err := remote.Query("SELECT year, month, is_closed, closed_at, closed_by FROM month_closing")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			year, month, isClosed int
			closedAt, closedBy    sql.NullString
		)
		if err := rows.Scan(&year, &month, &isClosed, &closedAt, &closedBy); err != nil {
			return err
		}

		var (
			localClosed   int
			localClosedAt sql.NullString
		)
		err := local.QueryRow(
			"SELECT is_closed, closed_at FROM month_closing WHERE year = ? AND month = ?", year, month,
		).Scan(&localClosed, &localClosedAt)

		switch {
		case err == sql.ErrNoRows:
			if _, err := local.Exec(
				"INSERT INTO month_closing (year, month, is_closed, closed_at, closed_by) VALUES (?, ?, ?, ?, ?)",
				year, month, isClosed, closedAt, closedBy,
			); err != nil {
				return err
			}
		case err != nil:
			return err
		case isClosed == 1 && localClosed == 0:
			if _, err := local.Exec(
				"UPDATE month_closing SET is_closed = 1, closed_at = ?, closed_by = ? WHERE year = ? AND month = ?",
				closedAt, closedBy, year, month,
			); err != nil {
				return err
			}
		case isClosed == 1 && localClosed == 1:
			if e.newer(closedAt.String, localClosedAt.String) {
				if _, err := local.Exec(
					"UPDATE month_closing SET closed_at = ?, closed_by = ? WHERE year = ? AND month = ?",
					closedAt, closedBy, year, month,
				); err != nil {
					return err
				}
			}
		}
	}
	return rows.Err()
}

func localCategoryIDs(local *sql.DB) (map[string]int64, error) {
	rows, err := local.Query("SELECT id, name FROM categories")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

func (e *Engine) resolveCategory(remote *sql.DB, remoteID sql.NullInt64, localIDs map[string]int64) sql.NullInt64 {
	if !remoteID.Valid {
		return sql.NullInt64{}
	}
	var name string
	if err := remote.QueryRow("SELECT name FROM categories WHERE id = ?", remoteID.Int64).Scan(&name); err != nil {
		return sql.NullInt64{}
	}
	if id, ok := localIDs[name]; ok {
		return sql.NullInt64{Int64: id, Valid: true}
	}
	return sql.NullInt64{}
}

func (e *Engine) resolveAttachment(path sql.NullString, index map[string]string) sql.NullString {
	if !path.Valid {
		return sql.NullString{}
	}
	if mapped, ok := attachments.MapPath(path.String, e.attachmentsDir, index); ok {
		return sql.NullString{String: mapped, Valid: true}
	}
	return sql.NullString{}
}
