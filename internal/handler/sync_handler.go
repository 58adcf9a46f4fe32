package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tillbook-sync-server/internal/domain"
	"tillbook-sync-server/internal/middleware"
	"tillbook-sync-server/internal/service"
	"tillbook-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SyncHandler struct {
	syncService *service.SyncService
	validate    *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		validate:    validator.New(),
	}
}

// Status answers unauthenticated discovery requests with this device's
// identity and logical change timestamp.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.syncService.Status())
}

func (h *SyncHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req domain.PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, domain.CodeBadRequest, "invalid pairing payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, domain.CodeBadRequest, "incomplete pairing payload")
		return
	}

	res, err := h.syncService.Pair(&req, middleware.RemoteIP(r))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// Backup serves a full archive to a pulling peer.
func (h *SyncHandler) Backup(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetDeviceAuth(r)
	if auth == nil {
		response.Unauthorized(w, domain.CodeAuth, "access denied")
		return
	}
	remoteLastChange, ok := readRemoteLastChange(w, r)
	if !ok {
		return
	}

	data, err := h.syncService.Backup(auth, remoteLastChange)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	response.Zip(w, data)
}

// Restore accepts a full archive pushed by a peer.
func (h *SyncHandler) Restore(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetDeviceAuth(r)
	if auth == nil {
		response.Unauthorized(w, domain.CodeAuth, "access denied")
		return
	}
	remoteLastChange, ok := readRemoteLastChange(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, domain.CodeBadRequest, "archive body could not be read")
		return
	}
	if len(body) == 0 {
		response.BadRequest(w, domain.CodeBadRequest, "archive body is empty")
		return
	}

	if err := h.syncService.Restore(auth, remoteLastChange, body); err != nil {
		writeSyncError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// NotFound answers every unmatched route.
func (h *SyncHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, domain.CodeNotFound, "route not found")
}

// readRemoteLastChange enforces a parseable peer timestamp at the
// boundary. Unparseable values are rejected here instead of being fed to
// the lexical comparison fallback.
func readRemoteLastChange(w http.ResponseWriter, r *http.Request) (string, bool) {
	value := r.Header.Get(middleware.HeaderRemoteLastChange)
	if value == "" {
		response.BadRequest(w, domain.CodeBadRequest, "missing remote change timestamp")
		return "", false
	}
	if !service.ValidTimestamp(value) {
		response.BadRequest(w, domain.CodeBadRequest, "invalid remote change timestamp")
		return "", false
	}
	return value, true
}

func writeSyncError(w http.ResponseWriter, err error) {
	var se *domain.SyncError
	if !errors.As(err, &se) {
		response.InternalError(w, domain.CodeInternal, err.Error())
		return
	}
	switch se.Code {
	case domain.CodeAuth, domain.CodePairCode:
		response.Error(w, http.StatusUnauthorized, se.Code, se.Message)
	case domain.CodeConflict, domain.CodeRemoteNewer, domain.CodeLocalNewer:
		response.Conflict(w, se.Code, se.Message)
	case domain.CodeBadRequest:
		response.BadRequest(w, se.Code, se.Message)
	case domain.CodeNotFound:
		response.NotFound(w, se.Code, se.Message)
	default:
		response.InternalError(w, se.Code, se.Message)
	}
}
