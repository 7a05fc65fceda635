package config

import (
	"github.com/parley-run/parley/analytics"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig     RedisStorageConfig
	InMemoryConfig  InmemStorageConfig
	StorageType     StorageType
	RuntimeName     string
	MainFlow        string
	FlowsFile       string
	RandomSeed      int64
	RestoreSnapshot bool
	TimerInterval   int
	AnalyticsConfig analytics.TraceCollectorConfig
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type InmemStorageConfig struct {
}
