package gophisynth

// VoiceState is the published state of one voice and its filter
type VoiceState struct {
	ID      int
	Running bool
	Params  VoiceParams
	Gain    float64
	Cutoff  float64
	Q       float64
}

// ReverbState is the published state of the reverb unit
type ReverbState struct {
	Wet           float64
	Dry           float64
	Enabled       bool
	LengthSeconds float64
}

// EffectState is the published state of one active effect unit. Params only
// holds values that were set through the engine.
type EffectState struct {
	Name   string
	Params map[string]float64
}

// Snapshot is a consistent view of the engine parameters as last published
// by the render context.
type Snapshot struct {
	Blocks  uint64 // blocks rendered when the snapshot was published
	Voices  []VoiceState
	Reverb  ReverbState
	Effects []EffectState
}

// Voice returns the state of voice id
func (s Snapshot) Voice(id int) (VoiceState, bool) {
	for _, v := range s.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return VoiceState{}, false
}

// Effect returns the state of the named unit
func (s Snapshot) Effect(name string) (EffectState, bool) {
	for _, e := range s.Effects {
		if e.Name == name {
			return e, true
		}
	}
	return EffectState{}, false
}

type publishedEffect struct {
	name    string
	params  [maxEffectParams]effectParam
	nParams int
}

// publishedState is the preallocated storage the render context copies into.
// It is guarded by Engine.snapMu, which the render context only ever
// TryLocks.
type publishedState struct {
	blocks  uint64
	voices  []VoiceState
	reverb  ReverbState
	effects []publishedEffect
}

func newPublishedState(voices, effects int) publishedState {
	return publishedState{
		voices:  make([]VoiceState, voices),
		effects: make([]publishedEffect, effects),
	}
}

// capture copies the render-side objects into p without allocating
func (p *publishedState) capture(blocks uint64, voices []*Voice, reverb *ReverbUnit, chain *EffectChain) {
	p.blocks = blocks
	for i, v := range voices {
		p.voices[i] = VoiceState{
			ID:      v.id,
			Running: v.running,
			Params:  v.params,
			Gain:    v.gain,
			Cutoff:  v.filter.cutoff,
			Q:       v.filter.q,
		}
	}
	p.reverb = ReverbState{
		Wet:           reverb.wet,
		Dry:           reverb.dry,
		Enabled:       reverb.enabled,
		LengthSeconds: reverb.LengthSeconds(),
	}
	for i, s := range chain.stages {
		p.effects[i].name = s.name
		p.effects[i].params = s.params
		p.effects[i].nParams = s.nParams
	}
}

// snapshot builds an independent Snapshot from p
func (p *publishedState) snapshot() Snapshot {
	snap := Snapshot{
		Blocks:  p.blocks,
		Voices:  append([]VoiceState(nil), p.voices...),
		Reverb:  p.reverb,
		Effects: make([]EffectState, len(p.effects)),
	}
	for i, e := range p.effects {
		params := make(map[string]float64, e.nParams)
		for _, kv := range e.params[:e.nParams] {
			params[kv.name] = kv.value
		}
		snap.Effects[i] = EffectState{Name: e.name, Params: params}
	}
	return snap
}
