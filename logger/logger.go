package logger

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"playmate-chat/config"
)

// New builds the process logger. Development mode writes colored console
// output, otherwise JSON lines.
func New(cfg config.Log) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

var sensitive = map[string]struct{}{
	"authorization":     {},
	"x-service-key":     {},
	"sec-websocket-key": {},
}

// SafeHeaders renders request headers for logging with secrets redacted.
func SafeHeaders(h http.Header) string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		val := v[0]
		if _, ok := sensitive[strings.ToLower(k)]; ok {
			val = "<redacted>"
		}
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, "; ")
}
