// Package store persists this device's sync identity, its pairing secret
// and the list of paired peers in a single JSON file. The file is rewritten
// wholesale on every mutation via a temp file and an atomic rename.
package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tillbook-sync-server/internal/domain"

	"github.com/google/uuid"
)

const (
	storeVersion = 1
	pairCodeLen  = 10
	tokenLen     = 32
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Store is the identity and pairing store. All access goes through one
// mutex; sync requests from different peers serialize here.
type Store struct {
	mu   sync.Mutex
	path string
	data storeFile
}

type storeFile struct {
	Version         int                     `json:"version"`
	DeviceID        string                  `json:"device_id"`
	DeviceName      string                  `json:"device_name"`
	PairCode        string                  `json:"pair_code"`
	PairedDevices   []domain.PairedDevice   `json:"paired_devices"`
	PendingConflict *domain.PendingConflict `json:"pending_conflict"`
}

// Open loads the store from dir, creating identity, pair code and file on
// first run. Records written by older versions are migrated in place.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "sync_state.json")
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &s.data); jsonErr != nil {
			return nil, fmt.Errorf("corrupt pairing store %s: %w", path, jsonErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	changed := migrate(&s.data)
	if s.data.DeviceID == "" {
		s.data.DeviceID = uuid.New().String()
		changed = true
	}
	if s.data.DeviceName == "" {
		s.data.DeviceName = defaultDeviceName()
		changed = true
	}
	if s.data.PairCode == "" {
		s.data.PairCode = generatePairCode()
		changed = true
	}

	if changed {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// migrate upgrades a loaded record to the current version. Version 0 is the
// schema-less layout of early installations; it only lacks the version tag.
func migrate(data *storeFile) bool {
	if data.Version == storeVersion {
		return false
	}
	data.Version = storeVersion
	return true
}

// Identity returns this device's id and display name.
func (s *Store) Identity() domain.DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.DeviceIdentity{
		DeviceID:   s.data.DeviceID,
		DeviceName: s.data.DeviceName,
	}
}

// Snapshot returns a read-only view for status display.
func (s *Store) Snapshot() domain.SyncSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.SyncSnapshot{
		PairCode:      s.data.PairCode,
		PairedDevices: make([]domain.DeviceInfo, 0, len(s.data.PairedDevices)),
	}
	for _, d := range s.data.PairedDevices {
		snap.PairedDevices = append(snap.PairedDevices, domain.DeviceInfo{
			DeviceID:         d.DeviceID,
			DeviceName:       d.DeviceName,
			LastSyncAt:       d.LastSyncAt,
			LastRemoteChange: d.LastRemoteChange,
			LastKnownIP:      d.LastKnownIP,
		})
	}
	if c := s.data.PendingConflict; c != nil {
		snap.PendingConflict = &domain.ConflictInfo{
			DeviceID:         c.DeviceID,
			DeviceName:       c.DeviceName,
			LocalLastChange:  c.LocalLastChange,
			RemoteLastChange: c.RemoteLastChange,
			ReceivedAt:       c.ReceivedAt,
			LocalSummary:     c.LocalSummary,
			RemoteSummary:    c.RemoteSummary,
		}
	}
	return snap
}

// Pair authorizes a peer by pair code and returns its token. A known peer
// gets its existing token back; its name and IP are refreshed. The pair
// code check applies to known peers too.
func (s *Store) Pair(code, peerID, peerName string, sourceIP *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code != s.data.PairCode {
		return "", domain.NewError(domain.CodePairCode, "pair code does not match")
	}

	for i := range s.data.PairedDevices {
		d := &s.data.PairedDevices[i]
		if d.DeviceID == peerID {
			d.DeviceName = peerName
			if sourceIP != nil {
				d.LastKnownIP = sourceIP
			}
			if err := s.save(); err != nil {
				return "", err
			}
			return d.Token, nil
		}
	}

	token := generateToken(tokenLen)
	s.data.PairedDevices = append(s.data.PairedDevices, domain.PairedDevice{
		DeviceID:    peerID,
		DeviceName:  peerName,
		Token:       token,
		LastKnownIP: sourceIP,
	})
	if err := s.save(); err != nil {
		return "", err
	}
	return token, nil
}

// DeviceForToken looks up a peer by exact id and token match.
func (s *Store) DeviceForToken(peerID, token string) (*domain.PairedDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.data.PairedDevices {
		if d.DeviceID == peerID && d.Token == token {
			copied := d
			return &copied, true
		}
	}
	return nil, false
}

// UpdateDeviceSeen refreshes peer metadata on an authenticated call. It is
// a best-effort update; callers may ignore the error.
func (s *Store) UpdateDeviceSeen(peerID string, peerName *string, sourceIP *string, remoteChange *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.PairedDevices {
		d := &s.data.PairedDevices[i]
		if d.DeviceID != peerID {
			continue
		}
		if peerName != nil {
			d.DeviceName = *peerName
		}
		if sourceIP != nil {
			d.LastKnownIP = sourceIP
		}
		if remoteChange != nil {
			d.LastRemoteChange = remoteChange
		}
		return s.save()
	}
	return nil
}

// UpdateDeviceSync marks a completed sync round trip. This is the only
// place last_sync_at advances.
func (s *Store) UpdateDeviceSync(peerID string, remoteChange *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.PairedDevices {
		d := &s.data.PairedDevices[i]
		if d.DeviceID != peerID {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339)
		d.LastSyncAt = &now
		if remoteChange != nil {
			d.LastRemoteChange = remoteChange
		}
		return s.save()
	}
	return nil
}

// SetPendingConflict records a detected divergence, replacing any previous
// conflict.
func (s *Store) SetPendingConflict(conflict domain.PendingConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PendingConflict = &conflict
	return s.save()
}

// PendingConflict returns the current conflict, if any.
func (s *Store) PendingConflict() (*domain.PendingConflict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.PendingConflict == nil {
		return nil, false
	}
	copied := *s.data.PendingConflict
	return &copied, true
}

// ClearPendingConflict removes the pending conflict.
func (s *Store) ClearPendingConflict() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PendingConflict = nil
	return s.save()
}

// save rewrites the whole file. Callers hold the mutex. The temp-then-rename
// dance keeps a crashed write from truncating the store.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func generatePairCode() string {
	code := make([]byte, pairCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(fmt.Sprintf("pair code generation: %v", err))
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code)
}

func generateToken(length int) string {
	token := make([]byte, length)
	for i := range token {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			panic(fmt.Sprintf("token generation: %v", err))
		}
		token[i] = tokenAlphabet[n.Int64()]
	}
	return string(token)
}

func defaultDeviceName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "Tillbook"
}
