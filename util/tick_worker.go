package util

import (
	"sync"
	"time"

	"github.com/parley-run/parley/logger"
	"go.uber.org/zap"
)

// TickWorker invokes fn on a fixed interval until stopped. The runtime core
// has no wall-clock dependency; timer flows are driven by feeding timer
// events through a TickWorker running above the engine.
type TickWorker struct {
	name     string
	interval time.Duration
	fn       func()
	stop     chan struct{}
	wg       *sync.WaitGroup
}

func NewTickWorker(name string, interval time.Duration, stop chan struct{}, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:     name,
		interval: interval,
		fn:       fn,
		stop:     stop,
		wg:       wg,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.interval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name))
}

func (tw *TickWorker) Stop() {
	tw.stop <- struct{}{}
}
