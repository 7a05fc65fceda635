package analytics

import "github.com/parley-run/parley/model"

type TraceCollectorConfig struct {
	FileName      string
	CollectorType TraceCollectorType
}

type TraceCollectorType string

const LOG_FILE_TRACE_COLLECTOR TraceCollectorType = "LOG_FILE_TRACE_COLLECTOR"
const NO_OP_TRACE_COLLECTOR TraceCollectorType = "NO_OP_TRACE_COLLECTOR"

// EventTraceCollector records the full event stream crossing the runtime
// boundary. A recorded trace together with the engine seed is sufficient to
// replay a session offline.
type EventTraceCollector interface {
	RecordConsumed(event model.Event)
	RecordEmitted(event model.Event)
}

func NewTraceCollector(config TraceCollectorConfig) (EventTraceCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_TRACE_COLLECTOR:
		return NewLogFileTraceCollector(config.FileName)
	}
	return noOpTraceCollector{}, nil
}

type noOpTraceCollector struct{}

func (noOpTraceCollector) RecordConsumed(event model.Event) {}
func (noOpTraceCollector) RecordEmitted(event model.Event)  {}
