package middleware

import (
	"context"
	"log"
	"net"
	"net/http"

	"tillbook-sync-server/internal/domain"
	"tillbook-sync-server/internal/store"
	"tillbook-sync-server/pkg/response"
)

type contextKey string

const deviceAuthKey contextKey = "deviceAuth"

// HeaderDeviceID and friends are the sync wire headers.
const (
	HeaderDeviceID         = "Device-Id"
	HeaderDeviceToken      = "Device-Token"
	HeaderRemoteLastChange = "Remote-Last-Change"
)

// DeviceAuthMiddleware authorizes a peer by exact device-id and token
// match against the pairing store. On success the peer's metadata is
// opportunistically refreshed; a failed refresh never fails the request.
func DeviceAuthMiddleware(st *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := r.Header.Get(HeaderDeviceID)
			if deviceID == "" {
				response.Unauthorized(w, domain.CodeAuth, "missing device id")
				return
			}
			token := r.Header.Get(HeaderDeviceToken)
			if token == "" {
				response.Unauthorized(w, domain.CodeAuth, "missing device token")
				return
			}

			device, ok := st.DeviceForToken(deviceID, token)
			if !ok {
				response.Unauthorized(w, domain.CodeAuth, "access denied")
				return
			}

			ip := RemoteIP(r)
			if err := st.UpdateDeviceSeen(device.DeviceID, &device.DeviceName, ip, nil); err != nil {
				log.Printf("sync: updating peer metadata failed: %v", err)
			}

			auth := &domain.DeviceAuth{
				DeviceID:   device.DeviceID,
				DeviceName: device.DeviceName,
				LastSyncAt: device.LastSyncAt,
			}
			ctx := context.WithValue(r.Context(), deviceAuthKey, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceAuth returns the authenticated peer, or nil outside the
// auth middleware.
func GetDeviceAuth(r *http.Request) *domain.DeviceAuth {
	auth, ok := r.Context().Value(deviceAuthKey).(*domain.DeviceAuth)
	if !ok {
		return nil
	}
	return auth
}

// RemoteIP extracts the peer address without the port; nil when it cannot
// be determined.
func RemoteIP(r *http.Request) *string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return nil
	}
	return &host
}
