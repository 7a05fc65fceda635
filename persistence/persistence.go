package persistence

import (
	"fmt"

	"github.com/parley-run/parley/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type SnapshotNotFoundError struct {
	Name string
}

func (e SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot not found %s", e.Name)
}

// SnapshotStore persists engine snapshots by runtime name, so a runtime can
// be shut down and later restored onto the remaining event stream.
type SnapshotStore interface {
	Save(snapshot *model.Snapshot) error

	Get(name string) (*model.Snapshot, error)

	Delete(name string) error

	List() ([]string, error)
}
