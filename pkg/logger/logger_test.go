package logger

import (
	"reflect"
	"testing"
)

type recorded struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	entries []recorded
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.entries = append(r.entries, recorded{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchesToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("[Graph] Processing", "chunks", 3)
	Log("plain", "k", "v")

	for _, r := range []*recorder{a, b} {
		if len(r.entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(r.entries))
		}
		if r.entries[0].level != "info" || r.entries[0].message != "[Graph] Processing" {
			t.Fatalf("unexpected first entry: %+v", r.entries[0])
		}
		if !reflect.DeepEqual(r.entries[1].keyvals, []any{"k", "v"}) {
			t.Fatalf("Log dropped key/value pairs: %+v", r.entries[1])
		}
	}
}

func TestNoopWithoutInit(t *testing.T) {
	singletonMu.Lock()
	singleton = nil
	singletonMu.Unlock()

	Warn("nobody listens")
	Error("nobody listens")
}
