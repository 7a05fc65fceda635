package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/parley-run/parley/analytics"
	"github.com/parley-run/parley/config"
	"github.com/parley-run/parley/engine"
	"github.com/parley-run/parley/logger"
	"github.com/parley-run/parley/metadata"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/persistence"
	"github.com/parley-run/parley/persistence/inmem"
	rds "github.com/parley-run/parley/persistence/redis"
	"github.com/parley-run/parley/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const TIMER_TICK_EVENT string = "TimerTick"

type flowFile struct {
	Flows []model.FlowDef `yaml:"flows"`
}

// Agent wires a single runtime to its surroundings: flow definitions from a
// YAML file, events as JSON lines on stdin, emissions as JSON lines on
// stdout, snapshots in the configured store.
type Agent struct {
	Config          config.Config
	metadataService metadata.MetadataService
	snapshotStore   persistence.SnapshotStore
	engine          *engine.Engine
	tickWorker      *util.TickWorker
	tickStop        chan struct{}
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config: config,
	}
	setup := []func() error{
		a.setupMetadataService,
		a.setupSnapshotStore,
		a.setupEngine,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewMetadataService(metadata.NewInMemoryMetadataStorage())
	data, err := os.ReadFile(a.Config.FlowsFile)
	if err != nil {
		return fmt.Errorf("reading flows file: %w", err)
	}
	var file flowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing flows file: %w", err)
	}
	for _, def := range file.Flows {
		if err := a.metadataService.Register(def); err != nil {
			return fmt.Errorf("registering flow %s: %w", def.Name, err)
		}
	}
	logger.Info("flows registered", zap.Int("count", len(file.Flows)), zap.String("file", a.Config.FlowsFile))
	return nil
}

func (a *Agent) setupSnapshotStore() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.snapshotStore = rds.NewRedisSnapshotStore(rds.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
			Password:  a.Config.RedisConfig.Password,
			PoolSize:  a.Config.RedisConfig.PoolSize,
		})
	default:
		a.snapshotStore = inmem.NewInMemorySnapshotStore()
	}
	return nil
}

func (a *Agent) setupEngine() error {
	a.engine = engine.New(a.Config.RuntimeName, a.metadataService, a.Config.RandomSeed)
	collector, err := analytics.NewTraceCollector(a.Config.AnalyticsConfig)
	if err != nil {
		return err
	}
	a.engine.SetCollector(collector)

	if a.Config.RestoreSnapshot {
		snap, err := a.snapshotStore.Get(a.Config.RuntimeName)
		if err != nil {
			return err
		}
		logger.Info("restoring runtime from snapshot", zap.String("runtime", snap.Name), zap.Uint64("draws", snap.Draws))
		return a.engine.Restore(snap)
	}
	return a.engine.Boot(a.Config.MainFlow, nil)
}

func (a *Agent) Start() error {
	encoder := json.NewEncoder(os.Stdout)
	a.engine.Start(func(event model.Event) {
		if err := encoder.Encode(event); err != nil {
			logger.Error("writing emitted event", zap.Error(err))
		}
	}, &a.wg)

	if a.Config.TimerInterval > 0 {
		a.tickStop = make(chan struct{})
		a.tickWorker = util.NewTickWorker("timer", time.Duration(a.Config.TimerInterval)*time.Second, a.tickStop, func() {
			a.engine.Submit(model.NewEvent(TIMER_TICK_EVENT, nil))
		}, &a.wg)
		a.tickWorker.Start()
	}

	go a.readEvents()
	return nil
}

func (a *Agent) readEvents() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event model.Event
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Error("malformed input event", zap.Error(err))
			continue
		}
		a.engine.Submit(event)
	}
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	if a.tickWorker != nil {
		a.tickWorker.Stop()
	}
	if err := a.engine.Stop(); err != nil {
		return err
	}
	a.wg.Wait()
	snap := a.engine.Snapshot()
	if err := a.snapshotStore.Save(snap); err != nil {
		return err
	}
	logger.Info("runtime snapshot saved", zap.String("runtime", snap.Name))
	return nil
}
