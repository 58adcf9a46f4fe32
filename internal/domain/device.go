package domain

// DeviceIdentity is this installation's stable identity. The id and pair
// code are minted once on first run and persisted; the name may be edited.
type DeviceIdentity struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// PairedDevice is a peer installation that presented the correct pair code.
// The token is the sole proof of pairing and is never rotated automatically.
type PairedDevice struct {
	DeviceID         string  `json:"device_id"`
	DeviceName       string  `json:"device_name"`
	Token            string  `json:"token"`
	LastSyncAt       *string `json:"last_sync_at"`
	LastRemoteChange *string `json:"last_remote_change"`
	LastKnownIP      *string `json:"last_known_ip"`
}

// DeviceAuth carries the authenticated peer through a request.
type DeviceAuth struct {
	DeviceID   string
	DeviceName string
	LastSyncAt *string
}

type PairRequest struct {
	Code       string `json:"code" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
	DeviceName string `json:"device_name" validate:"required"`
}

type PairResponse struct {
	DeviceToken      string `json:"device_token"`
	ServerDeviceID   string `json:"server_device_id"`
	ServerDeviceName string `json:"server_device_name"`
	LastChange       string `json:"last_change"`
}

type StatusResponse struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	LastChange string `json:"last_change"`
}

// DeviceInfo is the peer view exposed to the operator, without the token.
type DeviceInfo struct {
	DeviceID         string  `json:"device_id"`
	DeviceName       string  `json:"device_name"`
	LastSyncAt       *string `json:"last_sync_at"`
	LastRemoteChange *string `json:"last_remote_change"`
	LastKnownIP      *string `json:"last_known_ip"`
}

// SyncSnapshot is the read-only store view used for status display.
type SyncSnapshot struct {
	PairCode        string        `json:"pair_code"`
	PairedDevices   []DeviceInfo  `json:"paired_devices"`
	PendingConflict *ConflictInfo `json:"pending_conflict"`
}
