package analytics

import (
	"os"

	"github.com/parley-run/parley/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileTraceCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileTraceCollector(fileName string) (*LogFileTraceCollector, error) {
	enccoderConfig := zap.NewProductionEncoderConfig()
	enccoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	enccoderConfig.StacktraceKey = "" // to hide stacktrace info
	fileEncoder := zapcore.NewJSONEncoder(enccoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	defaultLogLevel := zapcore.InfoLevel
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, defaultLogLevel))
	logger := zap.New(core)
	return &LogFileTraceCollector{
		fileName: fileName,
		logger:   logger,
	}, nil
}

func (lc *LogFileTraceCollector) RecordConsumed(event model.Event) {
	lc.logger.Info("consumed", zap.String("event", event.Name), zap.String("uid", event.UID), zap.String("source", event.Source), zap.Any("params", event.Params))
}

func (lc *LogFileTraceCollector) RecordEmitted(event model.Event) {
	lc.logger.Info("emitted", zap.String("event", event.Name), zap.String("uid", event.UID), zap.Any("params", event.Params))
}
