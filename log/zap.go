package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

// WithFilter restricts the output to entries matching the zapfilter rules.
// Example: "debug+:updater.* info+:*"
func WithFilter(rules string) (Option, error) {
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid log filter %q: %w", rules, err)
	}
	return zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapfilter.NewFilteringCore(c, filter)
	}), nil
}

// NewNop returns a logger which discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{l: zap.NewNop(), level: zapcore.FatalLevel}
}
