package service

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tillbook-sync-server/internal/archive"
	"tillbook-sync-server/internal/domain"
	"tillbook-sync-server/internal/ledger"
	"tillbook-sync-server/internal/store"
)

const (
	tempDirName     = "SyncTemp"
	conflictDirName = "SyncConflicts"
)

// SyncService orchestrates status, pairing, backup and restore. It owns no
// locks itself; the pairing store and the ledger each guard their own
// state, and the two are acquired sequentially, never across network I/O.
type SyncService struct {
	store          *store.Store
	db             *ledger.DB
	dataDir        string
	attachmentsDir string
	backupGrace    time.Duration
}

func NewSyncService(st *store.Store, db *ledger.DB, dataDir, attachmentsDir string, backupGrace time.Duration) *SyncService {
	return &SyncService{
		store:          st,
		db:             db,
		dataDir:        dataDir,
		attachmentsDir: attachmentsDir,
		backupGrace:    backupGrace,
	}
}

// Status returns this device's identity and logical change timestamp. Used
// unauthenticated for peer discovery.
func (s *SyncService) Status() domain.StatusResponse {
	identity := s.store.Identity()
	lastChange, err := s.db.LastChange()
	if err != nil {
		log.Printf("sync: reading last change failed: %v", err)
		lastChange = "unknown"
	}
	return domain.StatusResponse{
		DeviceID:   identity.DeviceID,
		DeviceName: identity.DeviceName,
		LastChange: lastChange,
	}
}

// Snapshot exposes the pairing store for operator status display.
func (s *SyncService) Snapshot() domain.SyncSnapshot {
	return s.store.Snapshot()
}

// Pair authorizes a peer via the pair code and returns its bearer token
// together with this device's identity and logical timestamp.
func (s *SyncService) Pair(req *domain.PairRequest, sourceIP *string) (*domain.PairResponse, error) {
	token, err := s.store.Pair(req.Code, req.DeviceID, req.DeviceName, sourceIP)
	if err != nil {
		return nil, err
	}

	identity := s.store.Identity()
	lastChange, err := s.db.LastChange()
	if err != nil {
		log.Printf("sync: reading last change failed: %v", err)
		lastChange = "unknown"
	}
	return &domain.PairResponse{
		DeviceToken:      token,
		ServerDeviceID:   identity.DeviceID,
		ServerDeviceName: identity.DeviceName,
		LastChange:       lastChange,
	}, nil
}

// Backup serves this device's full state to a pulling peer. On divergence
// it stores a pending conflict (local summary only, a pull carries no
// remote payload) and fails with CONFLICT; a peer that is already ahead
// gets REMOTE_NEWER instead of a stale archive.
func (s *SyncService) Backup(auth *domain.DeviceAuth, remoteLastChange string) ([]byte, error) {
	localLastChange, err := s.db.LastChange()
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "reading local change state failed", err)
	}

	if HasConflict(auth.LastSyncAt, localLastChange, remoteLastChange) {
		s.storePendingConflict(auth, localLastChange, remoteLastChange, nil, nil)
		return nil, domain.NewError(domain.CodeConflict, "both sides changed since the last sync")
	}

	if !IsAfter(localLastChange, remoteLastChange) {
		if err := s.store.UpdateDeviceSeen(auth.DeviceID, nil, nil, &remoteLastChange); err != nil {
			log.Printf("sync: updating peer metadata failed: %v", err)
		}
		return nil, domain.NewError(domain.CodeRemoteNewer, "remote data is newer")
	}

	tempDir := filepath.Join(s.dataDir, tempDirName)
	archivePath := filepath.Join(tempDir, fmt.Sprintf("sync_backup_%d.zip", time.Now().Unix()))

	err = s.db.WithConn(func(conn *sql.DB) error {
		return ledger.Checkpoint(conn)
	})
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "checkpoint before backup failed", err)
	}

	if err := archive.Create(s.db.Path(), s.attachmentsDir, true, archivePath); err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "building backup archive failed", err)
	}

	// The response is fully buffered; the file only has to survive our
	// own bookkeeping, but the grace period also tolerates debugging
	// peeks at the temp dir.
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "reading backup archive failed", err)
	}
	s.scheduleCleanup(archivePath)

	if err := s.store.UpdateDeviceSync(auth.DeviceID, &remoteLastChange); err != nil {
		log.Printf("sync: marking sync complete failed: %v", err)
	}
	return data, nil
}

// Restore applies a peer's pushed state. On divergence the pushed archive
// is preserved as conflict evidence and summarized for the operator; if
// local data is already ahead the push is rejected with LOCAL_NEWER.
func (s *SyncService) Restore(auth *domain.DeviceAuth, remoteLastChange string, body []byte) error {
	localLastChange, err := s.db.LastChange()
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "reading local change state failed", err)
	}

	if HasConflict(auth.LastSyncAt, localLastChange, remoteLastChange) {
		archivePath := s.storeConflictArchive(auth.DeviceID, body)
		var remoteSummary *domain.ConflictSummary
		if archivePath != nil {
			remoteSummary = s.buildRemoteSummary(*archivePath)
		}
		s.storePendingConflict(auth, localLastChange, remoteLastChange, archivePath, remoteSummary)
		return domain.NewError(domain.CodeConflict, "both sides changed since the last sync")
	}

	if !IsAfter(remoteLastChange, localLastChange) {
		if err := s.store.UpdateDeviceSeen(auth.DeviceID, nil, nil, &remoteLastChange); err != nil {
			log.Printf("sync: updating peer metadata failed: %v", err)
		}
		return domain.NewError(domain.CodeLocalNewer, "local data is newer")
	}

	tempDir := filepath.Join(s.dataDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return domain.WrapError(domain.CodeInternal, "creating sync temp dir failed", err)
	}
	archivePath := filepath.Join(tempDir, fmt.Sprintf("sync_restore_%d.zip", time.Now().Unix()))
	if err := os.WriteFile(archivePath, body, 0o600); err != nil {
		return domain.WrapError(domain.CodeInternal, "persisting pushed archive failed", err)
	}
	defer os.Remove(archivePath)

	if err := s.ApplyRemoteRestore(archivePath, "SYNC_RESTORE"); err != nil {
		return err
	}

	if err := s.store.UpdateDeviceSync(auth.DeviceID, &remoteLastChange); err != nil {
		log.Printf("sync: marking sync complete failed: %v", err)
	}
	return nil
}

// ApplyRemoteRestore swaps in a peer's archive wholesale: checkpoint,
// replace the database file (keeping a .bak), reload the live connection,
// copy in attachments and repair attachment references for this machine.
// The change-log entry makes the applied state the new local maximum.
func (s *SyncService) ApplyRemoteRestore(archivePath, changeAction string) error {
	err := s.db.WithConn(func(conn *sql.DB) error {
		return ledger.Checkpoint(conn)
	})
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "checkpoint before restore failed", err)
	}

	if err := archive.Restore(archivePath, s.db.Path(), s.attachmentsDir); err != nil {
		return domain.WrapError(domain.CodeInternal, "applying remote archive failed", err)
	}
	if err := s.db.Reload(); err != nil {
		return domain.WrapError(domain.CodeInternal, "reloading database failed", err)
	}

	err = s.db.WithConn(func(conn *sql.DB) error {
		if err := ledger.FixAttachmentPaths(conn, s.attachmentsDir); err != nil {
			return err
		}
		if err := ledger.EnsureAttachmentBase(conn, s.attachmentsDir); err != nil {
			return err
		}
		actor := "sync"
		details := "restore via local sync"
		return ledger.AppendChange(conn, ledger.ChangeEntry{
			Actor:      &actor,
			Action:     changeAction,
			EntityType: "SYNC",
			Details:    &details,
		})
	})
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "post-restore fixup failed", err)
	}
	return nil
}

// storePendingConflict records the divergence for the operator. Failures
// here must not mask the CONFLICT response, so they are only logged.
func (s *SyncService) storePendingConflict(auth *domain.DeviceAuth, localLast, remoteLast string, archivePath *string, remoteSummary *domain.ConflictSummary) {
	var localSummary *domain.ConflictSummary
	err := s.db.WithConn(func(conn *sql.DB) error {
		var buildErr error
		localSummary, buildErr = ledger.BuildSummary(conn)
		return buildErr
	})
	if err != nil {
		log.Printf("sync: building local conflict summary failed: %v", err)
	}

	conflict := domain.PendingConflict{
		DeviceID:         auth.DeviceID,
		DeviceName:       auth.DeviceName,
		LocalLastChange:  localLast,
		RemoteLastChange: remoteLast,
		ReceivedAt:       time.Now().UTC().Format(time.RFC3339),
		ArchivePath:      archivePath,
		LocalSummary:     localSummary,
		RemoteSummary:    remoteSummary,
	}
	if err := s.store.SetPendingConflict(conflict); err != nil {
		log.Printf("sync: persisting pending conflict failed: %v", err)
	}
}

// storeConflictArchive keeps the pushed archive as evidence. Best effort:
// a conflict without a cached body is still reportable, it just cannot be
// resolved with USE_REMOTE or MERGE.
func (s *SyncService) storeConflictArchive(deviceID string, body []byte) *string {
	conflictDir := filepath.Join(s.dataDir, conflictDirName)
	if err := os.MkdirAll(conflictDir, 0o755); err != nil {
		log.Printf("sync: creating conflict dir failed: %v", err)
		return nil
	}
	path := filepath.Join(conflictDir, fmt.Sprintf("conflict_%s_%d.zip", deviceID, time.Now().Unix()))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		log.Printf("sync: caching conflict archive failed: %v", err)
		return nil
	}
	return &path
}

// buildRemoteSummary restores the pushed archive into a disposable scratch
// location and reads it there; the live database is never involved.
func (s *SyncService) buildRemoteSummary(archivePath string) *domain.ConflictSummary {
	scratchDir, dbPath, _, err := archive.ExtractToScratch(archivePath, "tillbook-preview-*")
	if err != nil {
		log.Printf("sync: extracting conflict archive failed: %v", err)
		return nil
	}
	defer os.RemoveAll(scratchDir)

	conn, err := ledger.OpenScratch(dbPath)
	if err != nil {
		log.Printf("sync: opening conflict snapshot failed: %v", err)
		return nil
	}
	defer conn.Close()

	summary, err := ledger.BuildSummary(conn)
	if err != nil {
		log.Printf("sync: summarizing conflict snapshot failed: %v", err)
		return nil
	}
	return summary
}

// scheduleCleanup removes a served archive after the grace period.
// Fire-and-forget: the only decoupled background activity in the whole
// subsystem.
func (s *SyncService) scheduleCleanup(path string) {
	go func() {
		time.Sleep(s.backupGrace)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sync: removing temp archive failed: %v", err)
		}
	}()
}
