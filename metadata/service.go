package metadata

import (
	"github.com/parley-run/parley/flow"
	"github.com/parley-run/parley/model"
	c "github.com/patrickmn/go-cache"
)

// MetadataService hands out compiled flow templates. Compilation results are
// cached; saving or deleting a definition invalidates its cache entry.
type MetadataService interface {
	GetFlow(name string) (*flow.Template, error)
	ValidateFlow(def model.FlowDef) error
	Register(def model.FlowDef) error
	Unregister(name string) error
	GetMetadataStorage() MetadataStorage
}

type MetadataServiceImpl struct {
	storage MetadataStorage
	cache   *c.Cache
}

func NewMetadataService(storage MetadataStorage) MetadataService {
	return &MetadataServiceImpl{
		storage: storage,
		cache:   c.New(c.NoExpiration, 0),
	}
}

func (s *MetadataServiceImpl) GetFlow(name string) (*flow.Template, error) {
	if cached, found := s.cache.Get(name); found {
		return cached.(*flow.Template), nil
	}
	def, err := s.storage.GetFlowDefinition(name)
	if err != nil {
		return nil, err
	}
	tpl, err := flow.Compile(*def)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, tpl, c.NoExpiration)
	return tpl, nil
}

func (s *MetadataServiceImpl) ValidateFlow(def model.FlowDef) error {
	_, err := flow.Compile(def)
	return err
}

func (s *MetadataServiceImpl) Register(def model.FlowDef) error {
	if err := s.ValidateFlow(def); err != nil {
		return err
	}
	if err := s.storage.SaveFlowDefinition(def); err != nil {
		return err
	}
	s.cache.Delete(def.Name)
	return nil
}

func (s *MetadataServiceImpl) Unregister(name string) error {
	if err := s.storage.DeleteFlowDefinition(name); err != nil {
		return err
	}
	s.cache.Delete(name)
	return nil
}

func (s *MetadataServiceImpl) GetMetadataStorage() MetadataStorage {
	return s.storage
}
