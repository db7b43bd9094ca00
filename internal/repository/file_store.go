package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultStateVersion is the current state file format version.
const DefaultStateVersion = 1

// stateFile is the on-disk layout of one network's state.
type stateFile struct {
	Version int                    `json:"version"`
	Network *NetworkRecord         `json:"network,omitempty"`
	Nodes   map[string]*NodeRecord `json:"nodes"`

	modTime time.Time
}

// FileStore keeps deployment state in one JSON file per network with
// atomic file persistence.
type FileStore struct {
	mu       sync.RWMutex
	dir      string
	networks map[string]*stateFile
	now      func() time.Time
}

// NewFileStore creates or opens a store rooted at dir.
// If the directory doesn't exist, it is created with 0700 permissions.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{
		dir:      dir,
		networks: make(map[string]*stateFile),
		now:      time.Now,
	}, nil
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	return &FileStore{
		networks: make(map[string]*stateFile),
		now:      time.Now,
	}
}

// Dir returns the state directory, empty for memory stores.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(network string) string {
	return filepath.Join(s.dir, network+".json")
}

func validNetworkName(network string) error {
	if network == "" || strings.ContainsAny(network, `/\`) || strings.HasPrefix(network, ".") {
		return fmt.Errorf("invalid network name %q", network)
	}
	return nil
}

// stateLocked returns the cached state of network, loading it from disk
// on first use or when another process rewrote the file. Must be called
// with write lock held.
func (s *FileStore) stateLocked(network string) (*stateFile, error) {
	if err := validNetworkName(network); err != nil {
		return nil, err
	}
	if st, ok := s.networks[network]; ok {
		if s.dir == "" {
			return st, nil
		}
		info, err := os.Stat(s.path(network))
		if err != nil || info.ModTime().Equal(st.modTime) {
			return st, nil
		}
	}

	st := &stateFile{Version: DefaultStateVersion, Nodes: make(map[string]*NodeRecord)}
	if s.dir != "" {
		loaded, err := s.load(network)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if loaded != nil {
			st = loaded
		}
	}
	s.networks[network] = st
	return st, nil
}

// load reads one network's state from disk.
// Returns os.ErrNotExist if the file doesn't exist.
func (s *FileStore) load(network string) (*stateFile, error) {
	f, err := os.Open(s.path(network))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Empty file is valid - treat as empty state
	if len(data) == 0 {
		return nil, nil
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupted, network, err)
	}
	if st.Version > DefaultStateVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrStoreCorrupted, network, st.Version)
	}
	if st.Nodes == nil {
		st.Nodes = make(map[string]*NodeRecord)
	}
	if info, err := f.Stat(); err == nil {
		st.modTime = info.ModTime()
	}
	return &st, nil
}

// syncLocked writes one network's state atomically using temp file +
// rename. Must be called with write lock held.
func (s *FileStore) syncLocked(network string, st *stateFile) error {
	if s.dir == "" {
		return nil
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	path := s.path(network)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStorePersist, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write: %v", ErrStorePersist, err)
	}

	// Fsync to ensure data is on disk before rename
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %v", ErrStorePersist, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close: %v", ErrStorePersist, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrStorePersist, err)
	}
	if info, err := os.Stat(path); err == nil {
		st.modTime = info.ModTime()
	}
	return nil
}

// GetNetwork returns the network record.
func (s *FileStore) GetNetwork(_ context.Context, network string) (*NetworkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateLocked(network)
	if err != nil {
		return nil, err
	}
	if st.Network == nil {
		return nil, fmt.Errorf("%w: network %s", ErrNotFound, network)
	}
	return copyNetwork(st.Network), nil
}

// SaveNetwork stores the network record.
func (s *FileStore) SaveNetwork(_ context.Context, n *NetworkRecord) error {
	if n == nil {
		return fmt.Errorf("network record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateLocked(n.Network)
	if err != nil {
		return err
	}

	rec := copyNetwork(n)
	rec.UpdatedAt = s.now().UTC()
	if st.Network != nil && !st.Network.CreatedAt.IsZero() {
		rec.CreatedAt = st.Network.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	prev := st.Network
	st.Network = rec
	if err := s.syncLocked(n.Network, st); err != nil {
		st.Network = prev
		return err
	}
	return nil
}

// ListNetworks returns every network with state in the store, sorted by
// name.
func (s *FileStore) ListNetworks(_ context.Context) ([]*NetworkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return nil, fmt.Errorf("list state directory: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			if _, err := s.stateLocked(strings.TrimSuffix(name, ".json")); err != nil {
				return nil, err
			}
		}
	}

	var out []*NetworkRecord
	for _, st := range s.networks {
		if st.Network != nil {
			out = append(out, copyNetwork(st.Network))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out, nil
}

// GetNode returns a node record.
func (s *FileStore) GetNode(_ context.Context, network, nodeID string) (*NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateLocked(network)
	if err != nil {
		return nil, err
	}
	rec, ok := st.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s/%s", ErrNotFound, network, nodeID)
	}
	return copyNode(rec), nil
}

// PutNode stores a node record and syncs the network's file.
func (s *FileStore) PutNode(_ context.Context, n *NodeRecord) error {
	if n == nil {
		return fmt.Errorf("node record cannot be nil")
	}
	if n.NodeID == "" {
		return fmt.Errorf("node id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateLocked(n.Network)
	if err != nil {
		return err
	}

	prev := st.Nodes[n.NodeID]
	if err := ValidateTransition(prev, n); err != nil {
		return err
	}

	rec := copyNode(n)
	rec.UpdatedAt = s.now().UTC()
	st.Nodes[n.NodeID] = rec
	if err := s.syncLocked(n.Network, st); err != nil {
		if prev == nil {
			delete(st.Nodes, n.NodeID)
		} else {
			st.Nodes[n.NodeID] = prev
		}
		return err
	}
	return nil
}

// ListNodes returns every node record of network sorted by node id.
func (s *FileStore) ListNodes(_ context.Context, network string) ([]*NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateLocked(network)
	if err != nil {
		return nil, err
	}

	out := make([]*NodeRecord, 0, len(st.Nodes))
	for _, rec := range st.Nodes {
		out = append(out, copyNode(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

var _ Store = (*FileStore)(nil)
