package ledger

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertCategory(t *testing.T, conn *sql.DB, name string) int64 {
	t.Helper()
	res, err := conn.Exec("INSERT INTO categories (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func insertTransaction(t *testing.T, conn *sql.DB, publicID, txType string, amount float64, updatedAt string) {
	t.Helper()
	_, err := conn.Exec(
		`INSERT INTO transactions (public_id, date, year, month, type, amount, created_at, updated_at)
		 VALUES (?, '2024-03-10', 2024, 3, ?, ?, ?, ?)`,
		publicID, txType, amount, updatedAt, updatedAt,
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		for _, table := range []string{"categories", "transactions", "month_closing", "settings", "change_log"} {
			var name string
			err := conn.QueryRow(
				"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
			).Scan(&name)
			if err != nil {
				t.Errorf("expected table %s to exist: %v", table, err)
			}
		}
		var count int
		if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			return err
		}
		if count != len(migrations) {
			t.Errorf("expected %d recorded migrations, got %d", len(migrations), count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("expected reopen to succeed, got %v", err)
	}
	db.Close()
}

func TestLastChange_EmptyLedger(t *testing.T) {
	db := openTestDB(t)

	last, err := db.LastChange()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if last != EpochSentinel {
		t.Errorf("expected epoch sentinel, got %s", last)
	}
}

func TestLastChange_TracksAppends(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		if _, err := conn.Exec(
			`INSERT INTO change_log (ts, action, entity_type) VALUES
			 ('2024-03-01T10:00:00Z', 'CREATE', 'TRANSACTION'),
			 ('2024-03-02T09:00:00Z', 'UPDATE', 'TRANSACTION'),
			 ('2024-03-01T18:00:00Z', 'CREATE', 'CATEGORY')`,
		); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	last, err := db.LastChange()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if last != "2024-03-02T09:00:00Z" {
		t.Errorf("expected max change timestamp, got %s", last)
	}
}

func TestAppendChange_AdvancesClock(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		return AppendChange(conn, ChangeEntry{Action: "SYNC_RESTORE", EntityType: "SYNC"})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	last, err := db.LastChange()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if last == EpochSentinel {
		t.Error("expected change log append to advance the logical clock")
	}
	if _, err := time.Parse(time.RFC3339, last); err != nil {
		t.Errorf("expected RFC3339 change timestamp, got %s", last)
	}
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		if _, ok, err := GetSetting(conn, KeyAttachmentBase); err != nil || ok {
			t.Errorf("expected missing setting, got ok=%v err=%v", ok, err)
		}
		if err := EnsureAttachmentBase(conn, "/data/attachments"); err != nil {
			return err
		}
		if err := EnsureAttachmentBase(conn, "/other/attachments"); err != nil {
			return err
		}
		value, ok, err := GetSetting(conn, KeyAttachmentBase)
		if err != nil {
			return err
		}
		if !ok || value != "/other/attachments" {
			t.Errorf("expected upserted value, got %q ok=%v", value, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestBuildSummary(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		catID := insertCategory(t, conn, "Material")
		insertTransaction(t, conn, "tx-1", "INCOME", 100, "2024-03-01T10:00:00Z")
		insertTransaction(t, conn, "tx-2", "INCOME", 50, "2024-03-02T10:00:00Z")
		insertTransaction(t, conn, "tx-3", "EXPENSE", 30, "2024-03-03T10:00:00Z")
		if _, err := conn.Exec(
			"UPDATE transactions SET description = 'Beer crates' WHERE public_id = 'tx-3'",
		); err != nil {
			return err
		}
		if _, err := conn.Exec(
			"UPDATE transactions SET category_id = ? WHERE public_id = 'tx-2'", catID,
		); err != nil {
			return err
		}

		summary, err := BuildSummary(conn)
		if err != nil {
			return err
		}
		if summary.TxCount != 3 {
			t.Errorf("expected 3 transactions, got %d", summary.TxCount)
		}
		if summary.IncomeTotal != 150 {
			t.Errorf("expected income total 150, got %v", summary.IncomeTotal)
		}
		if summary.ExpenseTotal != 30 {
			t.Errorf("expected expense total 30, got %v", summary.ExpenseTotal)
		}
		if len(summary.LastItems) != 3 {
			t.Fatalf("expected 3 recent items, got %d", len(summary.LastItems))
		}
		if summary.LastItems[0].Label != "Beer crates" {
			t.Errorf("expected description label first, got %q", summary.LastItems[0].Label)
		}
		if summary.LastItems[1].Label != "Material" {
			t.Errorf("expected category fallback label, got %q", summary.LastItems[1].Label)
		}
		if summary.LastItems[2].Label != "entry" {
			t.Errorf("expected generic fallback label, got %q", summary.LastItems[2].Label)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestFixAttachmentPaths(t *testing.T) {
	db := openTestDB(t)
	base := t.TempDir()

	local := filepath.Join(base, "2024", "03", "receipt.pdf")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := os.WriteFile(local, []byte("pdf"), 0o644); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := db.WithConn(func(conn *sql.DB) error {
		insertTransaction(t, conn, "tx-1", "EXPENSE", 10, "2024-03-01T10:00:00Z")
		insertTransaction(t, conn, "tx-2", "EXPENSE", 20, "2024-03-01T11:00:00Z")
		if _, err := conn.Exec(
			"UPDATE transactions SET attachment_path = '/home/donor/attachments/2024/03/receipt.pdf' WHERE public_id = 'tx-1'",
		); err != nil {
			return err
		}
		if _, err := conn.Exec(
			"UPDATE transactions SET attachment_path = '/home/donor/attachments/2024/03/missing.pdf' WHERE public_id = 'tx-2'",
		); err != nil {
			return err
		}

		if err := FixAttachmentPaths(conn, base); err != nil {
			return err
		}

		var mapped string
		if err := conn.QueryRow(
			"SELECT attachment_path FROM transactions WHERE public_id = 'tx-1'",
		).Scan(&mapped); err != nil {
			return err
		}
		if mapped != local {
			t.Errorf("expected path rebased to %s, got %s", local, mapped)
		}

		var untouched string
		if err := conn.QueryRow(
			"SELECT attachment_path FROM transactions WHERE public_id = 'tx-2'",
		).Scan(&untouched); err != nil {
			return err
		}
		if untouched != "/home/donor/attachments/2024/03/missing.pdf" {
			t.Errorf("expected unresolvable path to stay, got %s", untouched)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestOpenScratch_RejectsWrites(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := db.WithConn(Checkpoint); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	db.Close()

	scratch, err := OpenScratch(filepath.Join(dir, dbFileName))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer scratch.Close()

	var count int
	if err := scratch.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count); err != nil {
		t.Errorf("expected scratch reads to work, got %v", err)
	}
	if _, err := scratch.Exec("INSERT INTO settings (key, value) VALUES ('x', 'y')"); err == nil {
		t.Error("expected scratch handle to reject writes")
	}
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t)

	err := db.WithConn(func(conn *sql.DB) error {
		insertTransaction(t, conn, "tx-1", "INCOME", 100, "2024-03-01T10:00:00Z")
		return Checkpoint(conn)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
