package obs

import (
	"io"
	"log"
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  atomic.Pointer[zap.Logger]
)

func init() { SetOutput(os.Stdout) }

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// SetOutput redirects all log lines to w.
func SetOutput(w io.Writer) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), level)
	base.Store(zap.New(core))
}

// Sync flushes buffered log output.
func Sync() error { return base.Load().Sync() }

type Fields map[string]any

func toZap(f Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}

func Info(msg string, f Fields)  { base.Load().Info(msg, toZap(f)...) }
func Error(msg string, f Fields) { base.Load().Error(msg, toZap(f)...) }
func Debug(msg string, f Fields) { base.Load().Debug(msg, toZap(f)...) }

// StdLog adapts the structured logger for APIs that want a *log.Logger,
// such as http.Server.ErrorLog. Lines are logged at error level tagged with source.
func StdLog(source string) *log.Logger {
	l, err := zap.NewStdLogAt(base.Load().With(zap.String("source", source)), zapcore.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(base.Load())
	}
	return l
}
