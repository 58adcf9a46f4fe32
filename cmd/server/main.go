package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillbook-sync-server/internal/attachments"
	"tillbook-sync-server/internal/config"
	"tillbook-sync-server/internal/domain"
	"tillbook-sync-server/internal/handler"
	"tillbook-sync-server/internal/ledger"
	"tillbook-sync-server/internal/merge"
	"tillbook-sync-server/internal/middleware"
	"tillbook-sync-server/internal/service"
	"tillbook-sync-server/internal/store"

	"github.com/gorilla/mux"
)

func main() {
	resolveAction := flag.String("resolve", "", "resolve the pending sync conflict (KEEP_LOCAL, USE_REMOTE or MERGE) and exit")
	showStatus := flag.Bool("status", false, "print pairing status as JSON and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := ledger.Open(cfg.Data.Dir)
	if err != nil {
		log.Fatalf("Failed to open ledger database: %v", err)
	}
	defer db.Close()

	if err := attachments.EnsureBase(cfg.Data.AttachmentsDir); err != nil {
		log.Fatalf("Failed to create attachments directory: %v", err)
	}
	err = db.WithConn(func(conn *sql.DB) error {
		return ledger.EnsureAttachmentBase(conn, cfg.Data.AttachmentsDir)
	})
	if err != nil {
		log.Fatalf("Failed to pin attachment base setting: %v", err)
	}

	st, err := store.Open(cfg.Data.Dir)
	if err != nil {
		log.Fatalf("Failed to open pairing store: %v", err)
	}

	syncService := service.NewSyncService(st, db, cfg.Data.Dir, cfg.Data.AttachmentsDir, cfg.Sync.BackupGrace)
	mergeEngine := merge.NewEngine(cfg.Data.AttachmentsDir, service.IsAfter)
	conflictService := service.NewConflictService(st, db, syncService, mergeEngine, cfg.Data.AttachmentsDir)

	if *showStatus {
		printStatus(syncService)
		return
	}
	if *resolveAction != "" {
		if err := conflictService.Resolve(domain.ResolveAction(*resolveAction)); err != nil {
			log.Fatalf("Conflict resolution failed: %v", err)
		}
		log.Printf("Conflict resolved with %s", *resolveAction)
		return
	}

	syncHandler := handler.NewSyncHandler(syncService)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware())

	r.HandleFunc("/sync/status", syncHandler.Status).Methods("GET")

	pair := r.PathPrefix("/sync/pair").Subrouter()
	if cfg.RateLimit.Enabled {
		pair.Use(middleware.RateLimit(cfg.RateLimit.PairPerSecond, cfg.RateLimit.PairBurst))
	}
	pair.HandleFunc("", syncHandler.Pair).Methods("POST")

	protected := r.PathPrefix("/sync").Subrouter()
	protected.Use(middleware.DeviceAuthMiddleware(st))
	protected.HandleFunc("/backup", syncHandler.Backup).Methods("GET")
	protected.HandleFunc("/restore", syncHandler.Restore).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(syncHandler.NotFound)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Sync.ReadTimeout,
		WriteTimeout: cfg.Sync.WriteTimeout,
		IdleTimeout:  cfg.Sync.IdleTimeout,
	}

	go func() {
		identity := st.Identity()
		snapshot := st.Snapshot()
		log.Printf("Starting Tillbook sync server on %s (device: %s, pair code: %s)",
			addr, identity.DeviceID, snapshot.PairCode)
		if snapshot.PendingConflict != nil {
			log.Printf("A sync conflict with %s is pending resolution", snapshot.PendingConflict.DeviceName)
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down sync server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Sync server stopped gracefully")
}

func printStatus(syncService *service.SyncService) {
	out := struct {
		domain.StatusResponse
		domain.SyncSnapshot
	}{
		StatusResponse: syncService.Status(),
		SyncSnapshot:   syncService.Snapshot(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("Failed to print status: %v", err)
	}
}
