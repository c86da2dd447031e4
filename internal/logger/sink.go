// Package logger is the narrow logging surface of the subscription engine.
//
// The engine never formats user-facing text. It reports protocol and lifecycle
// problems by short code plus a context string, and the sink decides where they go.
package logger

import (
	"sync"

	"github.com/yanun0323/logs"
)

// Sink receives coded diagnostics.
type Sink interface {
	Error(code string, context string)
	Warning(code string, context string)
}

// Default is the sink used when a component is not given one.
var Default Sink = Logs{}

// Logs forwards diagnostics to github.com/yanun0323/logs.
type Logs struct{}

func (Logs) Error(code string, context string) {
	logs.Errorf("[%s] %s", code, context)
}

func (Logs) Warning(code string, context string) {
	logs.Warnf("[%s] %s", code, context)
}

// Level of a recorded entry.
type Level uint8

const (
	LevelWarning Level = iota + 1
	LevelError
)

// Entry is one recorded diagnostic.
type Entry struct {
	Level   Level
	Code    string
	Context string
}

// Recorder keeps every diagnostic in memory. Tests use it to assert on codes.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Error(code string, context string) {
	r.append(Entry{Level: LevelError, Code: code, Context: context})
}

func (r *Recorder) Warning(code string, context string) {
	r.append(Entry{Level: LevelWarning, Code: code, Context: context})
}

func (r *Recorder) append(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded diagnostics.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// Codes returns the recorded codes in order.
func (r *Recorder) Codes() []string {
	entries := r.Entries()
	codes := make([]string, len(entries))
	for i, e := range entries {
		codes[i] = e.Code
	}
	return codes
}

// Or returns sink, or Default when sink is nil.
func Or(sink Sink) Sink {
	if sink == nil {
		return Default
	}
	return sink
}

var (
	_ Sink = Logs{}
	_ Sink = (*Recorder)(nil)
)
