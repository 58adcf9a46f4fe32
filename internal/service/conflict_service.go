package service

import (
	"database/sql"
	"log"
	"os"

	"tillbook-sync-server/internal/archive"
	"tillbook-sync-server/internal/domain"
	"tillbook-sync-server/internal/ledger"
	"tillbook-sync-server/internal/merge"
	"tillbook-sync-server/internal/store"
)

// ConflictService is the operator's resolver for the single pending
// conflict: keep local data, adopt the remote archive wholesale, or merge
// the two record sets. Each action ends with the conflict cleared and the
// peer's sync bookkeeping advanced.
type ConflictService struct {
	store          *store.Store
	db             *ledger.DB
	sync           *SyncService
	engine         *merge.Engine
	attachmentsDir string
}

func NewConflictService(st *store.Store, db *ledger.DB, sync *SyncService, engine *merge.Engine, attachmentsDir string) *ConflictService {
	return &ConflictService{
		store:          st,
		db:             db,
		sync:           sync,
		engine:         engine,
		attachmentsDir: attachmentsDir,
	}
}

// Resolve applies the operator's chosen action to the pending conflict.
func (s *ConflictService) Resolve(action domain.ResolveAction) error {
	pending, ok := s.store.PendingConflict()
	if !ok {
		return domain.NewError(domain.CodeConflict, "no conflict pending")
	}

	switch action {
	case domain.ResolveKeepLocal:
		return s.keepLocal(pending)
	case domain.ResolveUseRemote:
		return s.useRemote(pending)
	case domain.ResolveMerge:
		return s.mergeRemote(pending)
	default:
		return domain.NewError(domain.CodeConflict, "unknown conflict action")
	}
}

// keepLocal discards the peer's cached archive and leaves local data
// untouched. The remote timestamp recorded at detection becomes the new
// agreement point.
func (s *ConflictService) keepLocal(pending *domain.PendingConflict) error {
	if pending.ArchivePath != nil {
		if err := os.Remove(*pending.ArchivePath); err != nil && !os.IsNotExist(err) {
			log.Printf("sync: removing cached conflict archive failed: %v", err)
		}
	}
	return s.finish(pending)
}

// useRemote replaces local data with the cached pushed archive. A conflict
// detected during a pull has no cached body and cannot be resolved this way.
func (s *ConflictService) useRemote(pending *domain.PendingConflict) error {
	if pending.ArchivePath == nil {
		return domain.NewError(domain.CodeConflict, "no cached remote archive to restore")
	}
	if err := s.sync.ApplyRemoteRestore(*pending.ArchivePath, "SYNC_RESTORE_REMOTE"); err != nil {
		return err
	}
	if err := s.finish(pending); err != nil {
		return err
	}
	if err := os.Remove(*pending.ArchivePath); err != nil && !os.IsNotExist(err) {
		log.Printf("sync: removing cached conflict archive failed: %v", err)
	}
	return nil
}

// mergeRemote reconciles the cached archive into local data. The archive
// is restored into an isolated scratch location and only read there.
func (s *ConflictService) mergeRemote(pending *domain.PendingConflict) error {
	if pending.ArchivePath == nil {
		return domain.NewError(domain.CodeConflict, "no cached remote archive to merge")
	}

	scratchDir, dbPath, attachmentsPath, err := archive.ExtractToScratch(*pending.ArchivePath, "tillbook-merge-*")
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "extracting remote archive failed", err)
	}
	defer os.RemoveAll(scratchDir)

	remote, err := ledger.OpenScratch(dbPath)
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "opening remote snapshot failed", err)
	}
	defer remote.Close()

	err = s.db.WithConn(func(conn *sql.DB) error {
		if err := s.engine.Apply(conn, remote, attachmentsPath); err != nil {
			return err
		}
		if err := ledger.EnsureAttachmentBase(conn, s.attachmentsDir); err != nil {
			return err
		}
		actor := "sync"
		details := "merge via local sync"
		return ledger.AppendChange(conn, ledger.ChangeEntry{
			Actor:      &actor,
			Action:     "SYNC_MERGE",
			EntityType: "SYNC",
			Details:    &details,
		})
	})
	if err != nil {
		return domain.WrapError(domain.CodeInternal, "merging remote data failed", err)
	}

	if err := s.finish(pending); err != nil {
		return err
	}
	if err := os.Remove(*pending.ArchivePath); err != nil && !os.IsNotExist(err) {
		log.Printf("sync: removing cached conflict archive failed: %v", err)
	}
	return nil
}

// finish marks the round trip complete and clears the conflict. The
// resolver success paths are the only places last_sync_at may advance
// besides a clean backup or restore.
func (s *ConflictService) finish(pending *domain.PendingConflict) error {
	if err := s.store.UpdateDeviceSync(pending.DeviceID, &pending.RemoteLastChange); err != nil {
		return domain.WrapError(domain.CodeInternal, "updating sync state failed", err)
	}
	if err := s.store.ClearPendingConflict(); err != nil {
		return domain.WrapError(domain.CodeInternal, "clearing conflict failed", err)
	}
	return nil
}
