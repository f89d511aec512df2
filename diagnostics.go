package gophisynth

import (
	"github.com/GeoffreyPlitt/debuggo"
)

var diagDebug = debuggo.Debug("phisynth:diag")

// EventKind classifies a diagnostic event
type EventKind string

const (
	EffectInitFailed  EventKind = "effect_init_failed"
	UnknownTarget     EventKind = "unknown_target"
	UnknownParameter  EventKind = "unknown_parameter"
	InvalidValue      EventKind = "invalid_value"
	ImpulseLoadFailed EventKind = "impulse_load_failed"
	QueueOverflow     EventKind = "queue_overflow"
)

// Event is a structured diagnostic emitted by the engine. Events are only
// produced in the control context, never while rendering.
type Event struct {
	Kind   EventKind
	Target string  // target address, e.g. "voice:1" or "effect:granular"
	Name   string  // parameter or unit name, when relevant
	Value  float64 // offending value, when relevant
	Err    error
}

// Diagnostics receives engine events. Implementations must be safe for
// concurrent use.
type Diagnostics interface {
	Report(ev Event)
}

// DiagnosticsFunc adapts a function to the Diagnostics interface
type DiagnosticsFunc func(ev Event)

func (f DiagnosticsFunc) Report(ev Event) { f(ev) }

type debugDiagnostics struct{}

// DebugDiagnostics returns a Diagnostics that writes every event to the
// phisynth:diag debug stream.
func DebugDiagnostics() Diagnostics {
	return debugDiagnostics{}
}

func (debugDiagnostics) Report(ev Event) {
	if ev.Err != nil {
		diagDebug("%s target=%q name=%q value=%g: %v", ev.Kind, ev.Target, ev.Name, ev.Value, ev.Err)
		return
	}
	diagDebug("%s target=%q name=%q value=%g", ev.Kind, ev.Target, ev.Name, ev.Value)
}
