package inmem

import (
	"sort"
	"sync"

	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/persistence"
	"github.com/parley-run/parley/util"
)

var _ persistence.SnapshotStore = new(inMemorySnapshotStore)

// inMemorySnapshotStore keeps encoded snapshots in process memory. Snapshots
// go through the codec so stored state is detached from the live engine.
type inMemorySnapshotStore struct {
	mu             sync.RWMutex
	snapshots      map[string][]byte
	encoderDecoder util.EncoderDecoder[model.Snapshot]
}

func NewInMemorySnapshotStore() *inMemorySnapshotStore {
	return &inMemorySnapshotStore{
		snapshots:      make(map[string][]byte),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Snapshot](),
	}
}

func (s *inMemorySnapshotStore) Save(snapshot *model.Snapshot) error {
	data, err := s.encoderDecoder.Encode(*snapshot)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Name] = data
	return nil
}

func (s *inMemorySnapshotStore) Get(name string) (*model.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snapshots[name]
	s.mu.RUnlock()
	if !ok {
		return nil, persistence.SnapshotNotFoundError{Name: name}
	}
	return s.encoderDecoder.Decode(data)
}

func (s *inMemorySnapshotStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[name]; !ok {
		return persistence.SnapshotNotFoundError{Name: name}
	}
	delete(s.snapshots, name)
	return nil
}

func (s *inMemorySnapshotStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
