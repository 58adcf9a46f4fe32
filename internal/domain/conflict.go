package domain

// ResolveAction is the operator's choice for a pending conflict.
type ResolveAction string

const (
	ResolveKeepLocal ResolveAction = "KEEP_LOCAL"
	ResolveUseRemote ResolveAction = "USE_REMOTE"
	ResolveMerge     ResolveAction = "MERGE"
)

// PendingConflict records a detected divergence. At most one exists at a
// time; a newly detected conflict overwrites any previous one. ArchivePath
// is set only when the conflict came from an inbound push.
type PendingConflict struct {
	DeviceID         string           `json:"device_id"`
	DeviceName       string           `json:"device_name"`
	LocalLastChange  string           `json:"local_last_change"`
	RemoteLastChange string           `json:"remote_last_change"`
	ReceivedAt       string           `json:"received_at"`
	ArchivePath      *string          `json:"archive_path"`
	LocalSummary     *ConflictSummary `json:"local_summary"`
	RemoteSummary    *ConflictSummary `json:"remote_summary"`
}

// ConflictInfo is the operator-facing view of a pending conflict.
type ConflictInfo struct {
	DeviceID         string           `json:"device_id"`
	DeviceName       string           `json:"device_name"`
	LocalLastChange  string           `json:"local_last_change"`
	RemoteLastChange string           `json:"remote_last_change"`
	ReceivedAt       string           `json:"received_at"`
	LocalSummary     *ConflictSummary `json:"local_summary"`
	RemoteSummary    *ConflictSummary `json:"remote_summary"`
}

// ConflictSummary is a lightweight sketch of one side's dataset, shown to
// the operator before they pick a resolution.
type ConflictSummary struct {
	TxCount      int64          `json:"tx_count"`
	IncomeTotal  float64        `json:"income_total"`
	ExpenseTotal float64        `json:"expense_total"`
	LastItems    []ConflictItem `json:"last_items"`
}

// ConflictItem is one of the most recently updated transactions.
type ConflictItem struct {
	Date   string  `json:"date"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	TxType string  `json:"tx_type"`
}
