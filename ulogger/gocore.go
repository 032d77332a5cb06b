package ulogger

import (
	"github.com/ordishs/gocore"
)

type GoCoreLogger struct {
	*gocore.Logger
}

func NewGoCoreLogger(service string, options ...Option) *GoCoreLogger {
	if service == "" {
		service = "candyd"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	return &GoCoreLogger{gocore.Log(service, gocore.NewLogLevelFromString(opts.logLevel))}
}

func (g *GoCoreLogger) LogLevel() int {
	return int(g.Logger.GetLogLevel())
}

func (g *GoCoreLogger) SetLogLevel(level string) {
	// gocore log levels are fixed at construction.
}

func (g *GoCoreLogger) New(service string, options ...Option) Logger {
	return &GoCoreLogger{gocore.Log(service, g.Logger.GetLogLevel())}
}

func (g *GoCoreLogger) Duplicate(options ...Option) Logger {
	return &GoCoreLogger{g.Logger}
}
