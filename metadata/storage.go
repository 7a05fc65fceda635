package metadata

import (
	"fmt"
	"sync"

	"github.com/parley-run/parley/model"
)

type FlowNotFoundError struct {
	Name string
}

func (e FlowNotFoundError) Error() string {
	return fmt.Sprintf("flow definition %s not found", e.Name)
}

type MetadataStorage interface {
	SaveFlowDefinition(def model.FlowDef) error
	DeleteFlowDefinition(name string) error
	GetFlowDefinition(name string) (*model.FlowDef, error)
	ListFlowDefinitions() ([]model.FlowDef, error)
}

type inMemoryMetadataStorage struct {
	mu   sync.RWMutex
	defs map[string]model.FlowDef
}

var _ MetadataStorage = new(inMemoryMetadataStorage)

func NewInMemoryMetadataStorage() *inMemoryMetadataStorage {
	return &inMemoryMetadataStorage{
		defs: make(map[string]model.FlowDef),
	}
}

func (s *inMemoryMetadataStorage) SaveFlowDefinition(def model.FlowDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = def
	return nil
}

func (s *inMemoryMetadataStorage) DeleteFlowDefinition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, name)
	return nil
}

func (s *inMemoryMetadataStorage) GetFlowDefinition(name string) (*model.FlowDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return nil, FlowNotFoundError{Name: name}
	}
	return &def, nil
}

func (s *inMemoryMetadataStorage) ListFlowDefinitions() ([]model.FlowDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]model.FlowDef, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	return defs, nil
}
