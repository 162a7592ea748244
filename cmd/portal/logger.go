package main

import (
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

// structuredLogger is the subset of glog.Logger the adapter writes to.
type structuredLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ structuredLogger = (glog.Logger)(nil)

// printfLogger renders printf style calls into a structured logger.
type printfLogger struct {
	l structuredLogger
}

func newPrintfLogger(l structuredLogger) printfLogger {
	return printfLogger{l: l}
}

func (p printfLogger) Debug(format string, args ...any) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p printfLogger) Info(format string, args ...any) {
	p.l.Info(fmt.Sprintf(format, args...))
}

func (p printfLogger) Warn(format string, args ...any) {
	p.l.Warn(fmt.Sprintf(format, args...))
}

func (p printfLogger) Error(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func logLevel(name string) glog.Level {
	switch name {
	case "trace":
		return glog.Trace
	case "debug":
		return glog.Debug
	case "warn":
		return glog.Warn
	case "error":
		return glog.Error
	default:
		return glog.Info
	}
}
