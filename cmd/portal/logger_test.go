package main

import (
	"testing"

	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
)

type entry struct {
	level string
	msg   string
	args  []any
}

type fakeLogger struct {
	entries []entry
}

func (f *fakeLogger) add(level, msg string, args []any) {
	f.entries = append(f.entries, entry{level: level, msg: msg, args: args})
}

func (f *fakeLogger) Debug(msg string, args ...any) { f.add("debug", msg, args) }
func (f *fakeLogger) Info(msg string, args ...any)  { f.add("info", msg, args) }
func (f *fakeLogger) Warn(msg string, args ...any)  { f.add("warn", msg, args) }
func (f *fakeLogger) Error(msg string, args ...any) { f.add("error", msg, args) }

func TestPrintfLogger_FormatsMessages(t *testing.T) {
	fake := &fakeLogger{}
	var logger auth.Logger = newPrintfLogger(fake)

	logger.Debug("debug %d", 1)
	logger.Info("account %s signed in", "acc-1")
	logger.Warn("retry in %s", "5m")
	logger.Error("failed: %v", assert.AnError)

	assert.Equal(t, []entry{
		{level: "debug", msg: "debug 1"},
		{level: "info", msg: "account acc-1 signed in"},
		{level: "warn", msg: "retry in 5m"},
		{level: "error", msg: "failed: " + assert.AnError.Error()},
	}, fake.entries)
}

func TestPrintfLogger_KeepsPercentLiteralsWithoutArgs(t *testing.T) {
	fake := &fakeLogger{}
	newPrintfLogger(fake).Info("100%% done")

	assert.Equal(t, "100% done", fake.entries[0].msg)
	assert.Empty(t, fake.entries[0].args)
}

func TestLogLevel(t *testing.T) {
	cases := map[string]glog.Level{
		"trace":   glog.Trace,
		"debug":   glog.Debug,
		"info":    glog.Info,
		"warn":    glog.Warn,
		"error":   glog.Error,
		"":        glog.Info,
		"verbose": glog.Info,
	}
	for name, want := range cases {
		assert.Equal(t, want, logLevel(name), name)
	}
}
