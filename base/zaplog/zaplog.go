package zaplog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

func Logger() *zap.Logger { return logger.Load() }

func SetLogger(l *zap.Logger) {
	if l == nil {
		panic("logger must not be nil")
	}
	logger.Store(l)
}
