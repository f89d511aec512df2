package gophisynth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GeoffreyPlitt/debuggo"
)

var effectsDebug = debuggo.Debug("phisynth:effects")

// ErrUnknownEffect is returned when a unit name has no registered factory
var ErrUnknownEffect = errors.New("unknown effect unit")

// maxEffectParams bounds the parameters remembered per stage for snapshots
const maxEffectParams = 16

// EffectUnit is a post-reverb processing stage. The engine treats units as
// black boxes: parameters are forwarded unchecked and the unit clamps them.
//
// Init runs once in the control context and may allocate. SetParameter and
// Process run in the render context and must not block or allocate.
type EffectUnit interface {
	Name() string
	Init(sampleRate float64, channels, blockSize int) error
	SetParameter(name string, value float64)
	// Process transforms block in place; block[ch] has blockSize samples
	Process(block [][]float64)
}

// seededUnit is implemented by units with internal randomness
type seededUnit interface {
	Seed(seed int64)
}

// EffectFactory creates a fresh, uninitialized unit
type EffectFactory func() (EffectUnit, error)

// EffectRegistry maps unit names to factories
type EffectRegistry struct {
	mu        sync.RWMutex
	factories map[string]EffectFactory
}

// NewEffectRegistry returns an empty registry
func NewEffectRegistry() *EffectRegistry {
	return &EffectRegistry{factories: make(map[string]EffectFactory)}
}

// DefaultEffectRegistry returns a registry with the granular and pitch-shift
// units registered.
func DefaultEffectRegistry() *EffectRegistry {
	r := NewEffectRegistry()
	r.Register(GranularEffectName, func() (EffectUnit, error) { return NewGranular(), nil })
	r.Register(PitchShiftEffectName, func() (EffectUnit, error) { return NewPitchShift(), nil })
	return r
}

// Register adds or replaces a factory
func (r *EffectRegistry) Register(name string, factory EffectFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Lookup returns the factory for name, or nil
func (r *EffectRegistry) Lookup(name string) EffectFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[name]
}

// Names returns the registered unit names in sorted order
func (r *EffectRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type effectParam struct {
	name  string
	value float64
}

// effectStage is one initialized unit in the chain plus the last values set
// on it, kept for snapshots.
type effectStage struct {
	name    string
	unit    EffectUnit
	params  [maxEffectParams]effectParam
	nParams int
}

func (s *effectStage) remember(name string, value float64) {
	for i := 0; i < s.nParams; i++ {
		if s.params[i].name == name {
			s.params[i].value = value
			return
		}
	}
	if s.nParams < maxEffectParams {
		s.params[s.nParams] = effectParam{name: name, value: value}
		s.nParams++
	}
}

// EffectChain runs the available units in order. Units that failed to
// initialize are simply absent, so the reverb output reaches the next
// available stage or the output.
type EffectChain struct {
	stages []*effectStage
	byName map[string]*effectStage
}

// buildEffectChain creates and initializes every named unit. Failures are
// reported to diag and the unit is skipped.
func buildEffectChain(names []string, registry *EffectRegistry, cfg *Config, diag Diagnostics) *EffectChain {
	chain := &EffectChain{byName: make(map[string]*effectStage)}

	for _, name := range names {
		if _, dup := chain.byName[name]; dup {
			effectsDebug("Skipping duplicate effect unit %s", name)
			continue
		}

		unit, err := initEffectUnit(name, registry, cfg)
		if err != nil {
			effectsDebug("Effect unit %s unavailable: %v", name, err)
			diag.Report(Event{Kind: EffectInitFailed, Target: effectTargetPrefix + name, Name: name, Err: err})
			continue
		}

		stage := &effectStage{name: name, unit: unit}
		chain.stages = append(chain.stages, stage)
		chain.byName[name] = stage
		effectsDebug("Effect unit %s ready at position %d", name, len(chain.stages)-1)
	}

	return chain
}

// initEffectUnit runs the factory and Init, turning panics into errors
func initEffectUnit(name string, registry *EffectRegistry, cfg *Config) (unit EffectUnit, err error) {
	defer func() {
		if p := recover(); p != nil {
			unit = nil
			err = fmt.Errorf("effect unit %s panicked during init: %v", name, p)
		}
	}()

	factory := registry.Lookup(name)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEffect, name)
	}

	unit, err = factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create effect unit %s: %w", name, err)
	}
	if unit == nil {
		return nil, fmt.Errorf("effect unit factory %s returned nil", name)
	}

	if err := unit.Init(float64(cfg.SampleRate), cfg.Channels, cfg.BlockSize); err != nil {
		return nil, fmt.Errorf("failed to initialize effect unit %s: %w", name, err)
	}
	if s, ok := unit.(seededUnit); ok {
		s.Seed(cfg.Seed)
	}
	return unit, nil
}

// Has reports whether a unit with this name is active in the chain
func (c *EffectChain) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Names returns the active unit names in processing order
func (c *EffectChain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return names
}

// SetParameter forwards a value to the named unit. It returns false when the
// unit is not in the chain.
func (c *EffectChain) SetParameter(unit, name string, value float64) bool {
	stage, ok := c.byName[unit]
	if !ok {
		return false
	}
	stage.unit.SetParameter(name, value)
	stage.remember(name, value)
	return true
}

// Process runs every stage over block in order
func (c *EffectChain) Process(block [][]float64) {
	for _, s := range c.stages {
		s.unit.Process(block)
	}
}
