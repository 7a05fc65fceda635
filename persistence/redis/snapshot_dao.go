package redis

import (
	"context"
	"errors"
	"strings"

	rd "github.com/go-redis/redis/v9"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/persistence"
	"github.com/parley-run/parley/util"
)

var _ persistence.SnapshotStore = new(redisSnapshotStore)

const SNAPSHOT_KEY string = "SNAPSHOT"

type redisSnapshotStore struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Snapshot]
}

func NewRedisSnapshotStore(conf Config) *redisSnapshotStore {
	return &redisSnapshotStore{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Snapshot](),
	}
}

func (rs *redisSnapshotStore) Save(snapshot *model.Snapshot) error {
	key := rs.baseDao.getNamespaceKey(SNAPSHOT_KEY, snapshot.Name)
	ctx := context.Background()
	data, err := rs.encoderDecoder.Encode(*snapshot)
	if err != nil {
		return err
	}
	err = rs.redisClient.Set(ctx, key, data, 0).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rs *redisSnapshotStore) Get(name string) (*model.Snapshot, error) {
	key := rs.baseDao.getNamespaceKey(SNAPSHOT_KEY, name)
	ctx := context.Background()
	val, err := rs.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.SnapshotNotFoundError{Name: name}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rs.encoderDecoder.Decode([]byte(val))
}

func (rs *redisSnapshotStore) Delete(name string) error {
	key := rs.baseDao.getNamespaceKey(SNAPSHOT_KEY, name)
	ctx := context.Background()
	deleted, err := rs.redisClient.Del(ctx, key).Result()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if deleted == 0 {
		return persistence.SnapshotNotFoundError{Name: name}
	}
	return nil
}

func (rs *redisSnapshotStore) List() ([]string, error) {
	prefix := rs.baseDao.getNamespaceKey(SNAPSHOT_KEY) + ":"
	ctx := context.Background()
	keys, err := rs.redisClient.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	return names, nil
}
