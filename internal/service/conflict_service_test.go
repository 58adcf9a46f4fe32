package service

import (
	"database/sql"
	"os"
	"testing"
	"time"

	"tillbook-sync-server/internal/domain"
)

// makeConflict drives two installations into a push conflict and returns
// them with the receiver holding a pending conflict and a cached archive.
func makeConflict(t *testing.T) (receiver, donor *syncFixture) {
	t.Helper()
	donor = newSyncFixture(t)
	receiver = newSyncFixture(t)

	donor.commit(t, "tx-base", 5, "2024-03-01T09:00:00Z")
	donorAuth := donor.pairPeer(t, "receiver")
	receiverAuth := receiver.pairPeer(t, "donor")

	if err := receiver.sync.Restore(receiverAuth, "2024-03-01T09:00:00Z", mustBackup(t, donor, donorAuth)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	now := time.Now().UTC()
	donor.commit(t, "tx-donor", 42, now.Add(time.Hour).Format(time.RFC3339))
	receiver.commit(t, "tx-receiver", 7, now.Add(time.Hour).Format(time.RFC3339))

	body := mustBackup(t, donor, donor.auth(t, "receiver"))
	err := receiver.sync.Restore(receiver.auth(t, "donor"), donor.lastChange(t), body)
	if domain.ErrorCode(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT while building the fixture, got %v", err)
	}
	return receiver, donor
}

func TestResolve_NoPendingConflict(t *testing.T) {
	fx := newSyncFixture(t)

	err := fx.conflicts.Resolve(domain.ResolveKeepLocal)
	if domain.ErrorCode(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT for a missing conflict, got %v", err)
	}
}

func TestResolve_UnknownAction(t *testing.T) {
	receiver, _ := makeConflict(t)

	err := receiver.conflicts.Resolve(domain.ResolveAction("DELETE_EVERYTHING"))
	if domain.ErrorCode(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT for an unknown action, got %v", err)
	}
	if _, ok := receiver.store.PendingConflict(); !ok {
		t.Error("expected the conflict to stay pending after a bad action")
	}
}

func TestResolve_KeepLocal(t *testing.T) {
	receiver, _ := makeConflict(t)
	pending, _ := receiver.store.PendingConflict()
	changesBefore := receiver.changeLogCount(t)

	if err := receiver.conflicts.Resolve(domain.ResolveKeepLocal); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if receiver.changeLogCount(t) != changesBefore {
		t.Error("expected keep-local to leave the change log untouched")
	}
	if _, ok := receiver.store.PendingConflict(); ok {
		t.Error("expected the conflict to be cleared")
	}
	if receiver.auth(t, "donor").LastSyncAt == nil {
		t.Error("expected last sync to advance after resolution")
	}
	if _, err := os.Stat(*pending.ArchivePath); !os.IsNotExist(err) {
		t.Error("expected the cached archive to be removed")
	}

	var count int
	err := receiver.db.WithConn(func(conn *sql.DB) error {
		return conn.QueryRow(
			"SELECT COUNT(*) FROM transactions WHERE public_id = 'tx-donor'",
		).Scan(&count)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 0 {
		t.Error("expected the donor's transaction to stay out")
	}
}

func TestResolve_UseRemote(t *testing.T) {
	receiver, _ := makeConflict(t)
	pending, _ := receiver.store.PendingConflict()

	if err := receiver.conflicts.Resolve(domain.ResolveUseRemote); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var donorTx, receiverTx int
	err := receiver.db.WithConn(func(conn *sql.DB) error {
		if err := conn.QueryRow(
			"SELECT COUNT(*) FROM transactions WHERE public_id = 'tx-donor'",
		).Scan(&donorTx); err != nil {
			return err
		}
		return conn.QueryRow(
			"SELECT COUNT(*) FROM transactions WHERE public_id = 'tx-receiver'",
		).Scan(&receiverTx)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if donorTx != 1 {
		t.Error("expected the donor's transaction after use-remote")
	}
	if receiverTx != 0 {
		t.Error("expected the local-only transaction to be replaced wholesale")
	}

	if _, ok := receiver.store.PendingConflict(); ok {
		t.Error("expected the conflict to be cleared")
	}
	if _, err := os.Stat(*pending.ArchivePath); !os.IsNotExist(err) {
		t.Error("expected the cached archive to be removed")
	}
}

func TestResolve_UseRemote_NoArchive(t *testing.T) {
	fx := newSyncFixture(t)
	if err := fx.store.SetPendingConflict(domain.PendingConflict{
		DeviceID:         "peer-1",
		DeviceName:       "Laptop",
		LocalLastChange:  "2024-03-02T10:00:00Z",
		RemoteLastChange: "2024-03-02T11:00:00Z",
		ReceivedAt:       "2024-03-02T12:00:00Z",
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err := fx.conflicts.Resolve(domain.ResolveUseRemote)
	if domain.ErrorCode(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT without a cached archive, got %v", err)
	}
	if _, ok := fx.store.PendingConflict(); !ok {
		t.Error("expected the conflict to stay pending")
	}
}

func TestResolve_Merge(t *testing.T) {
	receiver, donor := makeConflict(t)

	// The donor also closed a month the receiver still has open.
	err := donor.db.WithConn(func(conn *sql.DB) error {
		_, err := conn.Exec(
			"INSERT INTO month_closing (year, month, is_closed, closed_at, closed_by) VALUES (2024, 2, 1, '2024-03-01T08:00:00Z', 'donor')",
		)
		return err
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// Rebuild the cached archive so it carries the closing.
	receiver.store.ClearPendingConflict()
	body := mustBackup(t, donor, donor.auth(t, "receiver"))
	resErr := receiver.sync.Restore(receiver.auth(t, "donor"), donor.lastChange(t), body)
	if domain.ErrorCode(resErr) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", resErr)
	}

	if err := receiver.conflicts.Resolve(domain.ResolveMerge); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err = receiver.db.WithConn(func(conn *sql.DB) error {
		for _, publicID := range []string{"tx-base", "tx-donor", "tx-receiver"} {
			var count int
			if err := conn.QueryRow(
				"SELECT COUNT(*) FROM transactions WHERE public_id = ?", publicID,
			).Scan(&count); err != nil {
				return err
			}
			if count != 1 {
				t.Errorf("expected transaction %s after merge, got %d", publicID, count)
			}
		}

		var closed int
		if err := conn.QueryRow(
			"SELECT is_closed FROM month_closing WHERE year = 2024 AND month = 2",
		).Scan(&closed); err != nil {
			return err
		}
		if closed != 1 {
			t.Error("expected the remotely closed month to be closed after merge")
		}

		var mergeEntries int
		if err := conn.QueryRow(
			"SELECT COUNT(*) FROM change_log WHERE action = 'SYNC_MERGE'",
		).Scan(&mergeEntries); err != nil {
			return err
		}
		if mergeEntries != 1 {
			t.Errorf("expected one merge change-log entry, got %d", mergeEntries)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := receiver.store.PendingConflict(); ok {
		t.Error("expected the conflict to be cleared")
	}
	if receiver.auth(t, "donor").LastSyncAt == nil {
		t.Error("expected last sync to advance after the merge")
	}
}
