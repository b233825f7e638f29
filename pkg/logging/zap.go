package logging

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
)

// zapLogger kratos log.Logger 的 zap 适配器
//
// main 侧统一用 zap，biz/data 层通过 log.Helper 打日志。
type zapLogger struct {
	logger *zap.Logger
}

// NewZapLogger 创建 kratos 日志适配器
func NewZapLogger(logger *zap.Logger) log.Logger {
	return &zapLogger{logger: logger.WithOptions(zap.AddCallerSkip(2))}
}

// Log 实现 log.Logger
func (l *zapLogger) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "")
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}

	switch level {
	case log.LevelDebug:
		l.logger.Debug(msg, fields...)
	case log.LevelInfo:
		l.logger.Info(msg, fields...)
	case log.LevelWarn:
		l.logger.Warn(msg, fields...)
	case log.LevelError:
		l.logger.Error(msg, fields...)
	case log.LevelFatal:
		l.logger.Fatal(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
	return nil
}
