package gophisynth

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/GeoffreyPlitt/debuggo"
)

var debug = debuggo.Debug("phisynth:main")

// Engine is the synthesis graph plus its control surface. Control methods are
// safe for concurrent use and never wait for rendering; the Render* methods
// form the render context and must be called from one goroutine at a time.
type Engine struct {
	cfg    Config
	diag   Diagnostics
	params *ParameterChannel

	effects map[string]bool // active effect units, read-only after construction

	irMu  sync.Mutex
	irGen *impulseGenerator

	r *renderer

	snapMu sync.Mutex // guards r.published

	blocks    atomic.Uint64
	dropped   atomic.Uint64
	overflows atomic.Uint64
}

// Stats are engine counters for monitoring
type Stats struct {
	Blocks         uint64 // blocks rendered
	PendingUpdates int    // updates waiting for the next block
	QueueCapacity  int
	Overflows      uint64 // updates rejected because the queue was full
	DroppedUpdates uint64 // updates the render context could not apply
}

// NewEngine builds an engine: voices, the synthesized reverb impulse response
// and the effect chain. Effect units that fail to initialize are reported to
// cfg.Diagnostics and left out of the chain.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Effects = append([]string(nil), cfg.Effects...)

	debug("Creating engine: %d Hz, block %d, %d channels, %d voices",
		cfg.SampleRate, cfg.BlockSize, cfg.Channels, cfg.Voices)

	voices := make([]*Voice, cfg.Voices)
	for id := range voices {
		voices[id] = NewVoice(id, float64(cfg.SampleRate))
	}

	irGen := newImpulseGenerator(cfg.Seed)
	ir := irGen.Generate(cfg.ReverbLength, cfg.SampleRate, cfg.Channels)
	kernel, err := newReverbKernel(ir, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	reverb := NewReverbUnit(kernel, cfg.ReverbEnabled, cfg.ReverbOnLevel, cfg.BlockSize, cfg.Channels)

	chain := buildEffectChain(cfg.Effects, cfg.Registry, &cfg, cfg.Diagnostics)
	effects := make(map[string]bool, len(chain.stages))
	for _, name := range chain.Names() {
		effects[name] = true
	}

	e := &Engine{
		cfg:     cfg,
		diag:    cfg.Diagnostics,
		params:  NewParameterChannel(cfg.QueueSize),
		effects: effects,
		irGen:   irGen,
		r:       newRenderer(&cfg, voices, reverb, chain),
	}

	// publish the initial state so Snapshot works before the first block
	e.r.published.capture(0, voices, reverb, chain)
	e.r.dirty = false

	debug("Engine ready with effect chain %v", chain.Names())
	return e, nil
}

// Config returns the validated configuration the engine was built with
func (e *Engine) Config() Config { return e.cfg }

// SampleRate returns the render sample rate in Hz
func (e *Engine) SampleRate() int { return e.cfg.SampleRate }

// BlockSize returns the frames rendered per block
func (e *Engine) BlockSize() int { return e.cfg.BlockSize }

// Channels returns the output channel count
func (e *Engine) Channels() int { return e.cfg.Channels }

// Voices returns the number of voices
func (e *Engine) Voices() int { return e.cfg.Voices }

// Effects returns the active effect units in chain order
func (e *Engine) Effects() []string { return e.r.chain.Names() }

// StartVoice starts voice id at the next block
func (e *Engine) StartVoice(id int) error {
	return e.sendUpdate(e.voiceUpdate(id, paramRunning, 1))
}

// StopVoice stops voice id at the next block
func (e *Engine) StopVoice(id int) error {
	return e.sendUpdate(e.voiceUpdate(id, paramRunning, 0))
}

// SetVoiceParam sets frequency, phaseDistortion, harmonicIntensity,
// fractalDepth or gain on voice id. Values are clamped to their ranges.
func (e *Engine) SetVoiceParam(id int, name string, value float64) error {
	return e.sendUpdate(e.voiceUpdate(id, name, value))
}

// SetFilterParam sets cutoff or q on the filter of voice id
func (e *Engine) SetFilterParam(id int, name string, value float64) error {
	return e.sendUpdate(e.filterUpdate(id, name, value))
}

// SetReverbMix sets the wet gain and the complementary dry gain
func (e *Engine) SetReverbMix(wet float64) error {
	return e.sendUpdate(e.reverbUpdate(ParamMix, wet))
}

// SetReverbWet sets the wet gain alone
func (e *Engine) SetReverbWet(wet float64) error {
	return e.sendUpdate(e.reverbUpdate(ParamWet, wet))
}

// SetReverbDry sets the dry gain alone
func (e *Engine) SetReverbDry(dry float64) error {
	return e.sendUpdate(e.reverbUpdate(ParamDry, dry))
}

// SetReverbEnabled switches the wet path on (at the configured on level) or off
func (e *Engine) SetReverbEnabled(enabled bool) error {
	return e.sendUpdate(e.reverbUpdate(ParamEnabled, boolValue(enabled)))
}

// ToggleReverb flips the reverb on or off
func (e *Engine) ToggleReverb() error {
	return e.sendUpdate(e.reverbUpdate(ParamToggle, 0))
}

// SetReverbLength synthesizes a new decaying-noise impulse response of the
// given length and swaps it in at the next block boundary. The kernel is
// built on the calling goroutine.
func (e *Engine) SetReverbLength(seconds float64) error {
	return e.sendUpdate(e.lengthUpdate(seconds))
}

// LoadImpulseResponse replaces the synthesized impulse response. The response
// is resampled and channel-mapped to the engine format. On error the current
// kernel stays in place.
func (e *Engine) LoadImpulseResponse(ir *ImpulseResponse) error {
	return e.sendUpdate(e.impulseUpdate(ir))
}

// LoadImpulseResponseFile loads a .wav or .flac impulse response
func (e *Engine) LoadImpulseResponseFile(path string) error {
	return e.sendUpdate(e.impulseFileUpdate(path))
}

// SetEffectParam forwards a parameter to an active effect unit. The value is
// passed through unchecked apart from NaN; the unit clamps it.
func (e *Engine) SetEffectParam(unit, name string, value float64) error {
	return e.sendUpdate(e.effectUpdate(unit, name, value))
}

// SetParameter is the string-addressed form of the setters above. target is
// "<n>", "voice:<n>", "filter:<n>", "reverb" or "effect:<name>".
func (e *Engine) SetParameter(target, name string, value float64) error {
	return e.sendUpdate(e.targetUpdate(target, name, value))
}

// Snapshot returns the parameter state last published by the render context.
// The render context never waits to publish: a block rendered while a reader
// holds the snapshot is published after the next block instead. If rendering
// stops right there the snapshot stays one step behind. RenderWAV publishes
// once more when it finishes.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	return e.r.published.snapshot()
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:         e.blocks.Load(),
		PendingUpdates: e.params.Len(),
		QueueCapacity:  e.params.Cap(),
		Overflows:      e.overflows.Load(),
		DroppedUpdates: e.dropped.Load(),
	}
}

func (e *Engine) voiceUpdate(id int, name string, value float64) (Update, error) {
	t := VoiceTarget(id)
	if err := e.checkVoice(t); err != nil {
		return Update{}, err
	}
	if !isVoiceParam(name) {
		return Update{}, e.rejectParam(t, name, value)
	}
	if err := e.checkValue(t, name, value); err != nil {
		return Update{}, err
	}
	if name == paramRunning {
		value = boolValue(value != 0)
	}
	return Update{Target: t, Name: name, Value: value}, nil
}

func (e *Engine) filterUpdate(id int, name string, value float64) (Update, error) {
	t := FilterTarget(id)
	if err := e.checkVoice(t); err != nil {
		return Update{}, err
	}
	if !isFilterParam(name) {
		return Update{}, e.rejectParam(t, name, value)
	}
	if err := e.checkValue(t, name, value); err != nil {
		return Update{}, err
	}
	return Update{Target: t, Name: name, Value: value}, nil
}

func (e *Engine) reverbUpdate(name string, value float64) (Update, error) {
	if name == ParamLength {
		return e.lengthUpdate(value)
	}
	t := ReverbTarget()
	if !isReverbParam(name) {
		return Update{}, e.rejectParam(t, name, value)
	}
	if err := e.checkValue(t, name, value); err != nil {
		return Update{}, err
	}
	return Update{Target: t, Name: name, Value: value}, nil
}

func (e *Engine) lengthUpdate(seconds float64) (Update, error) {
	t := ReverbTarget()
	if err := e.checkValue(t, ParamLength, seconds); err != nil {
		return Update{}, err
	}
	seconds = clamp(seconds, minReverbLength, maxReverbLength)

	e.irMu.Lock()
	ir := e.irGen.Generate(seconds, e.cfg.SampleRate, e.cfg.Channels)
	e.irMu.Unlock()

	kernel, err := newReverbKernel(ir, &e.cfg)
	if err != nil {
		e.diag.Report(Event{Kind: ImpulseLoadFailed, Target: t.String(), Name: ParamLength, Value: seconds, Err: err})
		return Update{}, fmt.Errorf("failed to regenerate impulse response: %w", err)
	}
	debug("Regenerated impulse response: %.3fs", seconds)
	return Update{Target: t, Name: ParamLength, Value: seconds, kernel: kernel}, nil
}

func (e *Engine) impulseUpdate(ir *ImpulseResponse) (Update, error) {
	t := ReverbTarget()
	kernel, err := newReverbKernel(ir, &e.cfg)
	if err != nil {
		e.diag.Report(Event{Kind: ImpulseLoadFailed, Target: t.String(), Err: err})
		return Update{}, fmt.Errorf("failed to load impulse response: %w", err)
	}
	debug("Loaded impulse response: %d frames at %d Hz", ir.Len(), ir.SampleRate)
	return Update{Target: t, Name: ParamLength, Value: kernel.lengthSeconds, kernel: kernel}, nil
}

func (e *Engine) impulseFileUpdate(path string) (Update, error) {
	ir, err := LoadImpulseFile(path)
	if err != nil {
		e.diag.Report(Event{Kind: ImpulseLoadFailed, Target: ReverbTarget().String(), Name: path, Err: err})
		return Update{}, err
	}
	return e.impulseUpdate(ir)
}

func (e *Engine) effectUpdate(unit, name string, value float64) (Update, error) {
	t := EffectTarget(unit)
	if !e.effects[unit] {
		err := fmt.Errorf("%w: %s", ErrUnknownTarget, t)
		e.diag.Report(Event{Kind: UnknownTarget, Target: t.String(), Name: name, Value: value, Err: err})
		return Update{}, err
	}
	if err := e.checkValue(t, name, value); err != nil {
		return Update{}, err
	}
	return Update{Target: t, Name: name, Value: value}, nil
}

func (e *Engine) targetUpdate(target, name string, value float64) (Update, error) {
	t, err := ParseTarget(target)
	if err != nil {
		e.diag.Report(Event{Kind: UnknownTarget, Target: target, Name: name, Value: value, Err: err})
		return Update{}, err
	}

	switch t.Kind {
	case TargetVoice:
		return e.voiceUpdate(t.ID, name, value)
	case TargetFilter:
		return e.filterUpdate(t.ID, name, value)
	case TargetEffect:
		return e.effectUpdate(t.Effect, name, value)
	default:
		return e.reverbUpdate(name, value)
	}
}

func (e *Engine) sendUpdate(u Update, err error) error {
	if err != nil {
		return err
	}
	return e.send(u)
}

func (e *Engine) send(updates ...Update) error {
	if err := e.params.Send(updates...); err != nil {
		e.overflows.Add(uint64(len(updates)))
		u := updates[0]
		e.diag.Report(Event{Kind: QueueOverflow, Target: u.Target.String(), Name: u.Name, Value: u.Value, Err: err})
		return err
	}
	return nil
}

func (e *Engine) checkVoice(t Target) error {
	if t.ID >= 0 && t.ID < e.cfg.Voices {
		return nil
	}
	err := fmt.Errorf("%w: %s (engine has %d voices)", ErrUnknownTarget, t, e.cfg.Voices)
	e.diag.Report(Event{Kind: UnknownTarget, Target: t.String(), Err: err})
	return err
}

func (e *Engine) checkValue(t Target, name string, value float64) error {
	if !math.IsNaN(value) {
		return nil
	}
	err := fmt.Errorf("%w: %s %s is NaN", ErrInvalidValue, t, name)
	e.diag.Report(Event{Kind: InvalidValue, Target: t.String(), Name: name, Value: value, Err: err})
	return err
}

func (e *Engine) rejectParam(t Target, name string, value float64) error {
	err := fmt.Errorf("%w: %s on %s", ErrUnknownParameter, name, t)
	e.diag.Report(Event{Kind: UnknownParameter, Target: t.String(), Name: name, Value: value, Err: err})
	return err
}

func isVoiceParam(name string) bool {
	switch name {
	case ParamFrequency, ParamPhaseDistortion, ParamHarmonicIntensity, ParamFractalDepth, ParamGain, paramRunning:
		return true
	}
	return false
}

func isFilterParam(name string) bool {
	switch name {
	case ParamCutoff, ParamQ, aliasCutoffHz, aliasFrequency, aliasResonance:
		return true
	}
	return false
}

func isReverbParam(name string) bool {
	switch name {
	case ParamMix, ParamWet, ParamDry, ParamEnabled, ParamToggle:
		return true
	}
	return false
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
